package transfercache

//go:generate mockgen -source freelist.go -destination ../mocks/transfercache.go -package mocks

// Object is the address of a single object
type Object = uintptr

// FreeList is the layer a TransferCache falls back to when it cannot satisfy a request, and
// where evicted objects are returned. *centralfreelist.CentralFreeList satisfies it.
type FreeList interface {
	InsertRange(objs []Object)
	RemoveRange(out []Object) int
}
