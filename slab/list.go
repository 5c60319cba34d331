package slab

import "sync/atomic"

// epochClassState is the per-(size class, epoch) state from spec §3:
// two intrusive doubly-linked lists (partial, full), a lock-free
// published current-partial pointer, and a count of empty partial
// slabs awaiting reclamation at epoch close.
type epochClassState struct {
	partialHead *slabNode
	partialTail *slabNode
	fullHead    *slabNode
	fullTail    *slabNode

	currentPartial atomic.Pointer[Slab]
	emptyPartial   atomic.Int64
}

func (st *epochClassState) pushPartial(n *slabNode) {
	n.prev = st.partialTail
	n.next = nil
	if st.partialTail != nil {
		st.partialTail.next = n
	} else {
		st.partialHead = n
	}
	st.partialTail = n
	n.slab.setListID(listPartial)
}

func (st *epochClassState) pushFull(n *slabNode) {
	n.prev = st.fullTail
	n.next = nil
	if st.fullTail != nil {
		st.fullTail.next = n
	} else {
		st.fullHead = n
	}
	st.fullTail = n
	n.slab.setListID(listFull)
}

func (st *epochClassState) unlinkPartial(n *slabNode) {
	st.unlink(n, &st.partialHead, &st.partialTail)
}

func (st *epochClassState) unlinkFull(n *slabNode) {
	st.unlink(n, &st.fullHead, &st.fullTail)
}

func (st *epochClassState) unlink(n *slabNode, head, tail **slabNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		*head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		*tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// moveFullToPartial unlinks n from the full list and appends it to
// the partial list.
func (st *epochClassState) moveFullToPartial(n *slabNode) {
	st.unlinkFull(n)
	st.pushPartial(n)
}

// movePartialToFull unlinks n from the partial list and appends it to
// the full list.
func (st *epochClassState) movePartialToFull(n *slabNode) {
	st.unlinkPartial(n)
	st.pushFull(n)
}

// clearCurrentPartial nulls current_partial with release ordering,
// used on epoch advance (§4.9) to force fast-path threads through the
// slow path's epoch-state gate.
func (st *epochClassState) clearCurrentPartial() {
	st.currentPartial.Store(nil)
}
