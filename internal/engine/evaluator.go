package engine

import "github.com/roach88/flowkit/internal/ir"

// pendingJoins maps an AND listener to the members it still awaits.
type pendingJoins map[string]map[string]struct{}

// triggered returns, in registry order, the methods whose condition is
// satisfied by the completion of trigger.
//
// Only specs in the requested partition (routers or non-routers) are
// considered. OR conditions are stateless. AND conditions keep a pending
// set per listener, created on first encounter and dropped when the join
// fires, which re-arms it for later cycles.
//
// The caller must hold the run mutex; pending is mutated in place.
func triggered(trigger string, specs []ir.MethodSpec, pending pendingJoins, routerOnly bool) []string {
	var out []string
	for _, s := range specs {
		if s.Condition == nil || s.IsRouter() != routerOnly {
			continue
		}
		switch s.Condition.Type {
		case ir.ConditionOR:
			if s.Condition.Contains(trigger) {
				out = append(out, s.Name)
			}
		case ir.ConditionAND:
			if !s.Condition.Contains(trigger) {
				continue
			}
			waiting, ok := pending[s.Name]
			if !ok {
				waiting = make(map[string]struct{}, len(s.Condition.Methods))
				for _, m := range s.Condition.Methods {
					waiting[m] = struct{}{}
				}
				pending[s.Name] = waiting
			}
			delete(waiting, trigger)
			if len(waiting) == 0 {
				delete(pending, s.Name)
				out = append(out, s.Name)
			}
		}
	}
	return out
}
