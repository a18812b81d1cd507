package dpi

// Conn is the subset of a live connection the subscription subsystem drives.
// Every method is a blocking call into the external system; failures are
// reported as *Error.
//
// Implementations invoke SubscrCreateParams.Callback on goroutines they own,
// possibly concurrently with any call on Conn.
type Conn interface {
	// Charset names the encoding of strings inside notification messages.
	Charset() string
	Subscribe(params *SubscrCreateParams) (SubscrHandle, error)
	SubscrPrepareStmt(subscr SubscrHandle, sql string) (StmtHandle, error)
	StmtExecute(stmt StmtHandle, mode ExecMode) (numQueryColumns uint32, err error)
	StmtGetSubscrQueryID(stmt StmtHandle) (uint64, error)
	StmtRelease(stmt StmtHandle) error
	SubscrRelease(subscr SubscrHandle) error
}
