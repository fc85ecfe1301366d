package core

import "fmt"

// Handle identifies an object owned by a Pool[T]. The type parameter tags the
// handle, so handles minted by pools of different types never compare equal.
// The zero Handle is never valid.
type Handle[T any] struct {
	index      uint32
	generation uint32
}

func (h Handle[T]) Index() uint32      { return h.index }
func (h Handle[T]) Generation() uint32 { return h.generation }

// Valid reports whether h could have been minted by a pool. It says nothing
// about whether the object is still alive.
func (h Handle[T]) Valid() bool { return h.generation != 0 }

func (h Handle[T]) String() string {
	var zero T
	return fmt.Sprintf("%T#%d.%d", zero, h.index, h.generation)
}
