package wgpudev

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// OpenWindow initializes glfw and creates a window without a client API,
// ready to back a WebGPU surface. It must be called from the main thread.
func OpenWindow(title string, width, height int, resizable bool) (*glfw.Window, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("glfw init: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	if resizable {
		glfw.WindowHint(glfw.Resizable, glfw.True)
	} else {
		glfw.WindowHint(glfw.Resizable, glfw.False)
	}

	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("create window: %w", err)
	}
	return win, nil
}

// CloseWindow destroys win and shuts glfw down.
func CloseWindow(win *glfw.Window) {
	if win != nil {
		win.Destroy()
	}
	glfw.Terminate()
}
