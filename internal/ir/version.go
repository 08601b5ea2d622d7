package ir

// EngineVersion identifies the engine build. Reported by "flowkit --version"
// and GET /health.
const EngineVersion = "0.3.0"
