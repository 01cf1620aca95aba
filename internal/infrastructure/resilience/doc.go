/*
Package resilience provides the circuit breaker used by the network mediator.

# Overview

A Breaker guards calls to one downstream target. A Group hands out one breaker
per key (the mediator keys by hostname) and is owned by a single invocation,
so breaker state never leaks between sandboxed runs.

# States

	Closed --[ReadyToTrip]-> Open --[Cooldown]-> Half-Open --[MaxProbes successes]-> Closed
	                                                |
	                                            [failure]
	                                                v
	                                              Open

# Usage

	group := resilience.NewGroup(resilience.Settings{
		Cooldown:    time.Minute,
		ReadyToTrip: resilience.ConsecutiveFailures(3),
	})

	body, err := resilience.Do(group.Get(host), func() ([]byte, error) {
		return fetch(host)
	})
*/
package resilience
