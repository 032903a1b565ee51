package pkg

import "testing"

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrInvalidState,
		ErrInvalidParameter,
		ErrOutOfBounds,
		ErrTimeout,
		ErrReject,
		ErrUnrecognized,
		ErrUnsupportedMedium,
		ErrBufferTooSmall,
	}

	seen := make(map[error]bool)
	for _, err := range errs {
		if err == nil {
			t.Fatal("nil sentinel error")
		}
		if seen[err] {
			t.Errorf("duplicate sentinel error: %v", err)
		}
		seen[err] = true
	}

	msgs := make(map[string]bool)
	for _, err := range errs {
		if msgs[err.Error()] {
			t.Errorf("duplicate error message: %q", err.Error())
		}
		msgs[err.Error()] = true
	}
}
