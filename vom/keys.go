package vom

import "strconv"

// Store layout. Every key the manager writes starts with keyPrefix.
const (
	keyPrefix          = "vom."
	nextKindIDKey      = "vom.nextKindID"
	nextWeakStoreIDKey = "vom.nextWeakStoreID"
	kindPrefix         = "vom.kind."
	baggagePrefix      = "vom.baggage."
	weakStorePrefix    = "vom.ws"
	nextIDSuffix       = ".nextID"
)

func kindKey(kindID uint64) string {
	return kindPrefix + strconv.FormatUint(kindID, 10)
}

func instanceCounterKey(kindID uint64) string {
	return kindKey(kindID) + nextIDSuffix
}

func stateKey(base string) string {
	return keyPrefix + base
}

func weakStoreKey(storeID uint64, keySlot string) string {
	return weakStorePrefix + strconv.FormatUint(storeID, 10) + "." + keySlot
}

func baggageKey(name string) string {
	return baggagePrefix + name
}
