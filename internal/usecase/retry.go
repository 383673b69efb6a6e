package usecase

import "time"

// withRetry runs fn once and, on failure, once more after each delay,
// returning the last error on exhaustion. The sleep function is injectable
// so tests run without waiting.
func withRetry(delays []time.Duration, sleep func(time.Duration), fn func() error) error {
	err := fn()
	for _, d := range delays {
		if err == nil {
			return nil
		}
		sleep(d)
		err = fn()
	}
	return err
}
