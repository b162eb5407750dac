package corelog

// SetUserData stores an arbitrary key/value pair alongside the log's
// header, persisted immediately. Passing a nil value deletes the key.
func (l *Log) SetUserData(key string, value []byte) error {
	if err := l.shared.core.SetUserData(key, value); err != nil {
		return &StorageError{Err: err}
	}
	return nil
}

// GetUserData returns a previously stored value.
func (l *Log) GetUserData(key string) ([]byte, bool) {
	return l.shared.core.GetUserData(key)
}
