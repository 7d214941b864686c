package distmon

import (
	"github.com/distmon/distmon/pkg/distmon/core"
	"github.com/distmon/distmon/pkg/distmon/types"
)

// DistributedConditionVariable is a condition variable guarded by a single
// DistributedMutex, following the usual "wait releases the lock, re-checks
// the predicate on wake, re-acquires before returning" monitor contract --
// except here waking and re-acquiring both cross the network.
//
// Every call must be made with the guarding mutex held, exactly like
// sync.Cond.
type DistributedConditionVariable struct {
	name   types.CondName
	mutex  *DistributedMutex
	engine *core.CvEngine
}

// NewDistributedConditionVariable registers name with engine, guarded by
// mutex. Every Wait/NotifyOne/NotifyAll call requires mutex to be held.
func NewDistributedConditionVariable(name string, mutex *DistributedMutex, engine *core.CvEngine) *DistributedConditionVariable {
	condName := types.CondName(name)
	engine.RegisterCond(condName)
	return &DistributedConditionVariable{name: condName, mutex: mutex, engine: engine}
}

// Wait releases the guarding mutex and blocks until another process
// notifies this condition variable, re-checking predicate each time it
// wakes (protecting against spurious wakeups exactly like sync.Cond), then
// re-acquires the mutex before returning. Returns ErrNotOwned if called
// without the mutex held.
func (c *DistributedConditionVariable) Wait(predicate func() bool) error {
	if !c.mutex.IsOwned() {
		return ErrNotOwned
	}

	for !predicate() {
		subID, notified, err := c.engine.BeginWait(c.name)
		if err != nil {
			return err
		}

		c.mutex.Unlock()
		<-notified

		if err := c.mutex.Lock(); err != nil {
			return err
		}
		if err := c.engine.EndWait(c.name, subID); err != nil {
			return err
		}
	}

	return nil
}

// NotifyOne wakes the single earliest-waiting process, ordered by the
// Lamport time of its COND_WAIT. Must be called with the mutex held.
func (c *DistributedConditionVariable) NotifyOne() error {
	if !c.mutex.IsOwned() {
		return ErrNotOwned
	}
	return c.engine.NotifyOne(c.name)
}

// NotifyAll wakes every waiting process. Must be called with the mutex held.
func (c *DistributedConditionVariable) NotifyAll() error {
	if !c.mutex.IsOwned() {
		return ErrNotOwned
	}
	return c.engine.NotifyAll(c.name)
}

// Close unregisters the condition variable from its engine.
func (c *DistributedConditionVariable) Close() {
	c.engine.UnregisterCond(c.name)
}
