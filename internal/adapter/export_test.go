package adapter

// ResetInstance closes and drops the process-wide adapter so Initialize can run
// again.
func ResetInstance() {
	instanceMu.Lock()
	a := instance
	instance = nil
	instanceMu.Unlock()

	if a != nil {
		_ = a.Close()
	}
}
