package types

import "time"

// Role identifies a pipeline stage that publishes on the bus
type Role string

const (
	RoleUser     Role = "User"
	RoleDataset  Role = "S1" // dataset builder
	RoleKernel   Role = "S2" // kernel construction
	RoleSelector Role = "S3" // model selection
	RoleArchive  Role = "S4" // shadow archive
	RoleAuditor  Role = "S5"
	RoleReport   Role = "S6" // sqlite score store
)

// MessageType identifies the payload type of a bus message
type MessageType string

const (
	MsgRunStarted   MessageType = "RunStarted"   // User → S1: run parameters
	MsgSampleBuilt  MessageType = "SampleBuilt"  // S1 → S4: one labelled sample and its shadow
	MsgDatasetReady MessageType = "DatasetReady" // S1 → S2: all samples built
	MsgKernelBuilt  MessageType = "KernelBuilt"  // S2 → S3: one kernel representation ready
	MsgEntryScored  MessageType = "EntryScored"  // S3 → S6: best model for one (entry, kernel)
	MsgRunFinished  MessageType = "RunFinished"  // S3 → User: score table complete
)

// Message is the envelope for all stage-to-stage communication on the bus
type Message struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	From      Role        `json:"from"`
	To        Role        `json:"to"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
}

// RunParams is the configuration a run was started with
type RunParams struct {
	RunID    string  `json:"run_id"`
	Rows     int     `json:"rows"`
	Cols     int     `json:"cols"`
	Samples  int     `json:"samples"`
	Shots    int     `json:"shots"`
	Seed     uint64  `json:"seed"`
	Delta    float64 `json:"delta"`
	Groups   int     `json:"groups"` // median-of-means K derived from Delta
	Folds    int     `json:"folds"`
	TestFrac float64 `json:"test_frac"`
}

// SampleBuilt carries the labels of one dataset sample. Shadows travel to the
// archive through its direct sink, not the bus.
type SampleBuilt struct {
	RunID     string    `json:"run_id"`
	Index     int       `json:"index"`
	Features  []float64 `json:"features"`
	Exact     []float64 `json:"exact"`
	Estimated []float64 `json:"estimated"`
	Energy    float64   `json:"energy"`
	Fallback  bool      `json:"fallback"`
	Shots     int       `json:"shots"`
}

// DatasetReady is published once every sample has been built
type DatasetReady struct {
	RunID     string `json:"run_id"`
	Samples   int    `json:"samples"`
	Features  int    `json:"features"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// KernelBuilt describes one kernel representation
type KernelBuilt struct {
	RunID  string  `json:"run_id"`
	Kernel string  `json:"kernel"`
	Rows   int     `json:"rows"`
	Cols   int     `json:"cols"`
	Gamma  float64 `json:"gamma,omitempty"` // Gaussian only
}

// EntryScored is the winning model for one correlation entry and kernel
type EntryScored struct {
	RunID     string  `json:"run_id"`
	Entry     int     `json:"entry"`
	I         int     `json:"i"`
	J         int     `json:"j"`
	Kernel    string  `json:"kernel"`
	Family    string  `json:"family"`
	C         float64 `json:"c"`
	CVRMSE    float64 `json:"cv_rmse"`
	TestRMSE  float64 `json:"test_rmse"`
	TrainSize int     `json:"train_size"`
	TestSize  int     `json:"test_size"`
}

// RunFinished summarises a completed run
type RunFinished struct {
	RunID     string             `json:"run_id"`
	Entries   int                `json:"entries"`
	MeanTest  map[string]float64 `json:"mean_test"` // kernel -> mean test RMSE
	ElapsedMs int64              `json:"elapsed_ms"`
}

// AuditEvent is written by the Auditor to its JSONL log
type AuditEvent struct {
	EventID     string  `json:"event_id"`
	Timestamp   string  `json:"timestamp"`
	FromRole    Role    `json:"from_role"`
	ToRole      Role    `json:"to_role"`
	MessageType string  `json:"message_type"`
	Anomaly     string  `json:"anomaly"` // "none" | "boundary_violation" | "invariant_violation" | "non_finite_score" | "incomplete_run"
	Detail      *string `json:"detail"`
}
