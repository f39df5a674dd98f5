package proto

// Asynchronous backend messages — NoticeResponse, NotificationResponse,
// ParameterStatus, and the once-per-connection BackendKeyData — can arrive
// at almost any point in the protocol, interleaved with whatever the
// client is actually waiting for. readAsync (conn.go) is the choke point
// the authentication and query read paths go through; it intercepts the
// first three and loops for the next message, so callers of readAsync
// never see them directly. BackendKeyData only ever appears once, during
// startup, and is handled inline by awaitReady, which reads the wire
// directly and handles NoticeResponse and ParameterStatus itself.

// SetNoticeHandler installs the callback invoked for each NoticeResponse.
// Pass nil to stop receiving them.
func (c *Conn) SetNoticeHandler(h NoticeHandler) {
	c.OnNotice = h
}

// SetNotificationHandler installs the callback invoked for each
// LISTEN/NOTIFY delivery. Pass nil to stop receiving them.
func (c *Conn) SetNotificationHandler(h NotificationHandler) {
	c.OnNotification = h
}

// SetParameterStatusHandler installs the callback invoked whenever the
// server reports a runtime parameter change. Pass nil to stop receiving
// them; ParameterStatus remains queryable regardless.
func (c *Conn) SetParameterStatusHandler(h ParameterStatusHandler) {
	c.OnParamStatus = h
}
