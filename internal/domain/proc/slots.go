package proc

// handleCount is the fixed capacity of every per-process table: stack
// slots, locks, and semaphores.
const handleCount = 256

// Stack slots 0 and 1 are permanently reserved: slot 0 would sit at the
// top of user space itself, and slot 1 is the main thread's stack page.
const reservedSlots = 2

// slotTable is the one scan-and-claim allocator behind all three
// fixed-capacity tables. The caller serializes access with the process
// mutex, so scan-for-free and claim are atomic across threads.
type slotTable struct {
	used [handleCount]bool
}

// acquire claims and returns the first free slot, or false when the table
// is full.
func (st *slotTable) acquire() (int, bool) {
	for i := range st.used {
		if !st.used[i] {
			st.used[i] = true
			return i, true
		}
	}
	return 0, false
}

// reserve marks a specific slot used.
func (st *slotTable) reserve(i int) { st.used[i] = true }

// release frees a slot for reuse.
func (st *slotTable) release(i int) { st.used[i] = false }

// inUse reports whether the slot is claimed. Out-of-range handles are
// simply not in use.
func (st *slotTable) inUse(i int) bool {
	return i >= 0 && i < handleCount && st.used[i]
}

// reset clears every slot.
func (st *slotTable) reset() {
	st.used = [handleCount]bool{}
}
