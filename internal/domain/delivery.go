package domain

// DeliveryStatus is the lifecycle of a Delivery row (§3, §4.4).
type DeliveryStatus string

const (
	DeliveryCreated    DeliveryStatus = "Created"
	DeliveryDelivering DeliveryStatus = "Delivering"
	DeliveryDelivered  DeliveryStatus = "Delivered"
	DeliveryCanceled   DeliveryStatus = "Canceled"
)

// Delivery is one-to-one with an Order (§3), owned by the delivery
// participant.
type Delivery struct {
	OrderID  int64
	ClientID string
	Status   DeliveryStatus
}

// DeliveryRepository is the port the delivery participant uses to persist
// delivery rows. §9 Open Question 2: update is a single signature that
// always takes an explicit status; there is no status-less overload.
type DeliveryRepository interface {
	// Create inserts a delivery row for an order.
	Create(ctx Context, d Delivery) error
	// Get loads the delivery row for an order.
	Get(ctx Context, orderID int64) (Delivery, error)
	// UpdateStatus sets the delivery's status explicitly.
	UpdateStatus(ctx Context, orderID int64, status DeliveryStatus) error
}

// ClientAddress is the delivery participant's read-only replica of a
// client's shipping address (§3), kept current by the address directory.
type ClientAddress struct {
	ClientID string
	Address  string
	ZipCode  int
}

// ClientAddressRepository is the port backing the address directory
// (component table, §4.4, §4.6 list of components).
type ClientAddressRepository interface {
	// Upsert replicates a client.created or client.updated event.
	Upsert(ctx Context, a ClientAddress) error
	// Get loads the replicated address for a client.
	Get(ctx Context, clientID string) (ClientAddress, error)
}

// feasibleZipPrefixes preserves the literal feasibility predicate from §4.4:
// zip_code / 1000 ∈ {1, 20, 48}. Per §9 this is a placeholder for a real
// routing policy and is intentionally left unchanged until the product
// owner revisits it.
var feasibleZipPrefixes = map[int]bool{1: true, 20: true, 48: true}

// IsZipFeasible reports whether a zip code is deliverable under the
// current (placeholder) routing policy.
func IsZipFeasible(zip int) bool {
	return feasibleZipPrefixes[zip/1000]
}
