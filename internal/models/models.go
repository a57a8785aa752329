package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase request lifecycle. Terminal statuses never transition again.
type PurchaseStatus string

const (
	PurchaseStatusPendingHubCoordination PurchaseStatus = "pending_hub_coordination" // intent persisted, hub notification in flight
	PurchaseStatusHubCoordinated         PurchaseStatus = "hub_coordinated"          // hub acknowledged routing
	PurchaseStatusShippingInitiated      PurchaseStatus = "shipping_initiated"       // manufacturer started shipping, custody transfer opened
	PurchaseStatusInTransit              PurchaseStatus = "in_transit"               // mirrored from custody step progress
	PurchaseStatusDelivered              PurchaseStatus = "delivered"                // terminal
	PurchaseStatusCancelled              PurchaseStatus = "cancelled"                // terminal
)

// IsTerminal reports whether the status accepts no further transitions.
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusDelivered || s == PurchaseStatusCancelled
}

// Custody transfer lifecycle. minted and escrowed are distinct observable
// states because each has its own failure mode, even when the underlying
// ledger performs them in one operation.
type CustodyStatus string

const (
	CustodyStatusMinted              CustodyStatus = "minted"
	CustodyStatusEscrowed            CustodyStatus = "escrowed"
	CustodyStatusInTransit           CustodyStatus = "in_transit"
	CustodyStatusPendingConfirmation CustodyStatus = "pending_delivery_confirmation" // final handoff done, awaiting buyer
	CustodyStatusDelivered           CustodyStatus = "delivered"                     // terminal
	CustodyStatusCancelled           CustodyStatus = "cancelled"                     // terminal
	CustodyStatusFailed              CustodyStatus = "failed"                        // terminal, refund path
	CustodyStatusFrozen              CustodyStatus = "frozen"                        // escrow invariant violated, operator review
)

// IsTerminal reports whether the custody transfer accepts no further steps.
func (s CustodyStatus) IsTerminal() bool {
	switch s {
	case CustodyStatusDelivered, CustodyStatusCancelled, CustodyStatusFailed:
		return true
	}
	return false
}

// Escrow account lifecycle. Value leaves the account exactly once.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusFrozen   EscrowStatus = "frozen"
)

// Bridge transfer record lifecycle.
type BridgeStatus string

const (
	BridgeStatusSubmitted BridgeStatus = "submitted"
	BridgeStatusInFlight  BridgeStatus = "in_flight"
	BridgeStatusCompleted BridgeStatus = "completed"
	BridgeStatusStuck     BridgeStatus = "stuck" // requires operator intervention, never auto-retried
)

// Transporter availability.
type TransporterStatus string

const (
	TransporterStatusAvailable TransporterStatus = "available"
	TransporterStatusBusy      TransporterStatus = "busy"
)

// AddressList stores an ordered address sequence as a JSON column.
type AddressList []string

// Value implements driver.Valuer.
func (l AddressList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *AddressList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported address list column type %T", value)
	}
}

// PurchaseRequest is a cross-chain purchase tracked from buyer intent through
// hub coordination to delivery. Rows in a terminal status are never mutated.
type PurchaseRequest struct {
	ID                    uint            `json:"-" gorm:"primaryKey"`
	RequestID             string          `json:"request_id" gorm:"uniqueIndex;not null"`
	BuyerAddress          string          `json:"buyer_address" gorm:"index;not null"`
	BuyerChain            string          `json:"buyer_chain" gorm:"not null"`
	ManufacturerAddress   string          `json:"manufacturer_address" gorm:"index;not null"`
	ManufacturerChain     string          `json:"manufacturer_chain" gorm:"not null"`
	ProductID             string          `json:"product_id" gorm:"not null"`
	DeliveryLatitude      float64         `json:"delivery_latitude"`
	DeliveryLongitude     float64         `json:"delivery_longitude"`
	ManufacturerLatitude  float64         `json:"manufacturer_latitude"`
	ManufacturerLongitude float64         `json:"manufacturer_longitude"`
	PurchaseAmount        decimal.Decimal `json:"purchase_amount" gorm:"type:numeric(36,18);not null"`
	DistanceMiles         float64         `json:"distance_miles"`
	TransportersRequired  int             `json:"transporters_required" gorm:"not null"`
	Status                PurchaseStatus  `json:"status" gorm:"index;not null"`

	// Shipping details supplied by the manufacturer at startShipping.
	EstimatedDeliveryHours int    `json:"estimated_delivery_hours,omitempty"`
	PackageDetails         string `json:"package_details,omitempty" gorm:"type:text"`
	SpecialInstructions    string `json:"special_instructions,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PurchaseRequest) TableName() string { return "purchase_requests" }

// ProgressPercentage for a custody transfer step position.
func ProgressPercentage(currentStep, totalSteps int) float64 {
	if totalSteps <= 0 {
		return 0
	}
	return float64(currentStep) / float64(totalSteps) * 100
}

// CustodyTransfer is the long-lived workflow record for one physical
// shipment. It references exactly one PurchaseRequest; the unique index on
// purchase_request_id is what makes initiateTransfer idempotent under retry.
type CustodyTransfer struct {
	ID                   uint            `json:"-" gorm:"primaryKey"`
	TransferID           string          `json:"transfer_id" gorm:"uniqueIndex;not null"`
	PurchaseRequestID    string          `json:"purchase_request_id" gorm:"uniqueIndex;not null"`
	ProductID            string          `json:"product_id" gorm:"not null"`
	TokenID              string          `json:"token_id"`
	ManufacturerAddress  string          `json:"manufacturer_address" gorm:"index;not null"`
	TransporterAddresses AddressList     `json:"transporter_addresses" gorm:"type:text"`
	BuyerAddress         string          `json:"buyer_address" gorm:"index;not null"`
	EscrowID             string          `json:"escrow_id" gorm:"uniqueIndex;not null"`
	PurchaseAmount       decimal.Decimal `json:"purchase_amount" gorm:"type:numeric(36,18);not null"`
	CurrentStep          int             `json:"current_step" gorm:"not null"`
	TotalSteps           int             `json:"total_steps" gorm:"not null"`
	Status               CustodyStatus   `json:"status" gorm:"index;not null"`
	ProductMetadata      string          `json:"product_metadata,omitempty" gorm:"type:text"`

	// SettlementTransferID links to the bridge TransferRecord created on
	// delivery confirmation, empty until then.
	SettlementTransferID string     `json:"settlement_transfer_id,omitempty"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	ArchivedAt           *time.Time `json:"archived_at,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CustodyTransfer) TableName() string { return "custody_transfers" }

// Progress returns completion as a percentage.
func (t *CustodyTransfer) Progress() float64 {
	return ProgressPercentage(t.CurrentStep, t.TotalSteps)
}

// ExpectedCustodian returns the address allowed to execute the current step:
// the manufacturer for the first handoff, then each transporter in order.
func (t *CustodyTransfer) ExpectedCustodian() string {
	if t.CurrentStep <= 1 {
		return t.ManufacturerAddress
	}
	idx := t.CurrentStep - 2
	if idx < len(t.TransporterAddresses) {
		return t.TransporterAddresses[idx]
	}
	return ""
}

// Escrow holds the purchase amount while custody progresses. Single-writer:
// only release/refund operations in the custody orchestrator touch it.
type Escrow struct {
	ID         uint            `json:"-" gorm:"primaryKey"`
	EscrowID   string          `json:"escrow_id" gorm:"uniqueIndex;not null"`
	TransferID string          `json:"transfer_id" gorm:"index;not null"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:numeric(36,18);not null"`
	Status     EscrowStatus    `json:"status" gorm:"not null"`
	ReleasedAt *time.Time      `json:"released_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (Escrow) TableName() string { return "escrows" }

// StepExecution is the per-step idempotency record. The composite unique
// index makes a duplicate advance at the same step a constraint violation,
// so concurrent retries collapse to one logical operation.
type StepExecution struct {
	ID              uint      `json:"-" gorm:"primaryKey"`
	TransferID      string    `json:"transfer_id" gorm:"uniqueIndex:idx_transfer_step;not null"`
	Step            int       `json:"step" gorm:"uniqueIndex:idx_transfer_step;not null"`
	ExecutorAddress string    `json:"executor_address" gorm:"not null"`
	ExecutedAt      time.Time `json:"executed_at"`
}

func (StepExecution) TableName() string { return "step_executions" }

// DeliveryReceipt is the durable result of a confirmed delivery, including
// the payout split applied at escrow release.
type DeliveryReceipt struct {
	ID                   uint            `json:"-" gorm:"primaryKey"`
	TransferID           string          `json:"transfer_id" gorm:"uniqueIndex;not null"`
	BuyerAddress         string          `json:"buyer_address" gorm:"not null"`
	ConfirmationData     string          `json:"confirmation_data,omitempty" gorm:"type:text"`
	ManufacturerPayout   decimal.Decimal `json:"manufacturer_payout" gorm:"type:numeric(36,18)"`
	PerTransporterPayout decimal.Decimal `json:"per_transporter_payout" gorm:"type:numeric(36,18)"`
	SettlementTransferID string          `json:"settlement_transfer_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

func (DeliveryReceipt) TableName() string { return "delivery_receipts" }

// TransferRecord is the durable trace of one value bridge submission. Every
// accepted submission produces exactly one record; status progresses
// submitted -> in_flight -> completed | stuck.
type TransferRecord struct {
	ID          uint            `json:"-" gorm:"primaryKey"`
	TransferID  string          `json:"transfer_id" gorm:"uniqueIndex;not null"`
	FromChain   string          `json:"from_chain" gorm:"not null"`
	ToChain     string          `json:"to_chain" gorm:"not null"`
	FromAddress string          `json:"from_address" gorm:"not null"`
	ToAddress   string          `json:"to_address" gorm:"not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(36,18);not null"`
	EscrowID    string          `json:"escrow_id,omitempty" gorm:"index"`
	Status      BridgeStatus    `json:"status" gorm:"index;not null"`

	TransactionHash string `json:"transaction_hash,omitempty"`
	BridgeMessageID string `json:"bridge_message_id,omitempty"`

	// Auto-conversion of the bridged wrapped asset is best-effort. When it
	// fails the transfer itself still completes and the record is flagged
	// for a manual conversion retry.
	AutoConvert           bool   `json:"auto_convert"`
	ConversionTxHash      string `json:"conversion_tx_hash,omitempty"`
	NeedsManualConversion bool   `json:"needs_manual_conversion"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TransferRecord) TableName() string { return "transfer_records" }

// TransporterRecord tracks delivery outcomes and the derived reputation
// score used for leaderboard ranking and transporter selection.
type TransporterRecord struct {
	ID                   uint              `json:"-" gorm:"primaryKey"`
	Address              string            `json:"address" gorm:"uniqueIndex;not null"`
	ReputationScore      float64           `json:"reputation_score" gorm:"not null"`
	TotalDeliveries      int               `json:"total_deliveries" gorm:"not null"`
	SuccessfulDeliveries int               `json:"successful_deliveries" gorm:"not null"`
	Status               TransporterStatus `json:"status" gorm:"not null"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

func (TransporterRecord) TableName() string { return "transporter_records" }
