package halinfo

import "sync"

// DeviceKind enumerates the device classes the HAL inventories, mirroring
// the Device/DeviceType taxonomy the async probes populate.
type DeviceKind string

const (
	KindBlock   DeviceKind = "block"
	KindNetwork DeviceKind = "network"
	KindInput   DeviceKind = "input"
	KindDisplay DeviceKind = "display"
	KindUnknown DeviceKind = "unknown"
)

// DeviceID identifies a device within the HAL's inventory. It is stable for
// the lifetime of a single boot attempt only.
type DeviceID uint32

// Device is a single entry in the HAL's device table, populated either
// synchronously at HAL bring-up or asynchronously by a probe task.
type Device struct {
	ID       DeviceID
	Kind     DeviceKind
	Name     string
	Ready    bool
	Metadata map[string]string
}

// Inventory is the HAL's live device table. It is safe for concurrent use by
// the single-threaded probe orchestrator and any read-only callers (e.g. the
// CLI's inspect command against a captured snapshot).
type Inventory struct {
	mu      sync.RWMutex
	devices map[DeviceID]*Device
	byKind  map[DeviceKind][]DeviceID
	nextID  DeviceID
}

// NewInventory returns an empty device inventory.
func NewInventory() *Inventory {
	return &Inventory{
		devices: make(map[DeviceID]*Device),
		byKind:  make(map[DeviceKind][]DeviceID),
	}
}

// Register adds a new device, not yet ready, and returns its assigned ID.
func (inv *Inventory) Register(kind DeviceKind, name string) DeviceID {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	id := inv.nextID
	inv.nextID++

	inv.devices[id] = &Device{
		ID:       id,
		Kind:     kind,
		Name:     name,
		Metadata: map[string]string{},
	}
	inv.byKind[kind] = append(inv.byKind[kind], id)
	return id
}

// MarkReady flips a device to ready and attaches metadata discovered by its
// probe task.
func (inv *Inventory) MarkReady(id DeviceID, metadata map[string]string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	d, ok := inv.devices[id]
	if !ok {
		return
	}
	d.Ready = true
	for k, v := range metadata {
		d.Metadata[k] = v
	}
}

// Get returns a copy of a device's current state.
func (inv *Inventory) Get(id DeviceID) (Device, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	d, ok := inv.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// ByKind returns the IDs of every device of a given kind, in registration
// order, satisfying DeviceIndex()'s kind->ids secondary index.
func (inv *Inventory) ByKind(kind DeviceKind) []DeviceID {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	ids := inv.byKind[kind]
	out := make([]DeviceID, len(ids))
	copy(out, ids)
	return out
}

// All returns a snapshot of every device currently registered.
func (inv *Inventory) All() []Device {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]Device, 0, len(inv.devices))
	for _, d := range inv.devices {
		out = append(out, *d)
	}
	return out
}

// ReadyCount reports how many registered devices have completed probing.
func (inv *Inventory) ReadyCount() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	n := 0
	for _, d := range inv.devices {
		if d.Ready {
			n++
		}
	}
	return n
}
