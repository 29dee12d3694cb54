package domain

import "time"

// Lease is an exclusive, time-bounded claim on a stack. The holder presents
// it back to renew or release; LeaseID distinguishes successive holders.
type Lease struct {
	StackID    string    `json:"stack_id"`
	Holder     string    `json:"holder"`
	LeaseID    string    `json:"lease_id"`
	Operation  Operation `json:"operation,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
	Deadline   time.Time `json:"deadline"`
}

// Live reports whether the lease still excludes other holders at now.
func (l *Lease) Live(now time.Time) bool {
	return now.Before(l.Deadline)
}

// LockStatus describes the lock state of a stack for GET /stacks/{id}/lock.
type LockStatus struct {
	StackID   string    `json:"stack_id"`
	Locked    bool      `json:"locked"`
	Holder    string    `json:"holder,omitempty"`
	Operation Operation `json:"operation,omitempty"`
	Since     time.Time `json:"since,omitzero"`
	Deadline  time.Time `json:"deadline,omitzero"`
}
