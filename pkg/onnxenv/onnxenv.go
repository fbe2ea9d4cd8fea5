// Package onnxenv refcounts the process-global ONNX Runtime environment
// so multiple components in one process — the wakeword pipeline's three
// model sessions and a VAD ONNXScorer's single session — can each
// initialize and tear down their own sessions without double-calling the
// library-global Initialize/DestroyEnvironment pair, which onnxruntime_go
// does not tolerate.
package onnxenv

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	mu   sync.Mutex
	refs int
)

// Acquire initializes the shared ONNX Runtime environment on the first
// call and increments the reference count on every call. sharedLibPath
// is only honored on the first call in the process.
func Acquire(sharedLibPath string) error {
	mu.Lock()
	defer mu.Unlock()
	if refs == 0 {
		if sharedLibPath != "" {
			ort.SetSharedLibraryPath(sharedLibPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnxenv: init: %w", err)
		}
	}
	refs++
	return nil
}

// Release decrements the reference count, tearing down the environment
// once the last holder has released it.
func Release() {
	mu.Lock()
	defer mu.Unlock()
	refs--
	if refs == 0 {
		ort.DestroyEnvironment()
	}
}
