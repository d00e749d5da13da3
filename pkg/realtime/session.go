package realtime

// Session is the turn state for the single live conversation. Exactly
// one is live per connection; it is reset at the start of each response
// and cleared when a response completes or is interrupted.
//
// Responding == true implies ResponseID is non-empty. The played-sample
// count lives in the Pacer and is only meaningful while responding.
type Session struct {
	// ResponseID identifies the in-flight response, if any.
	ResponseID string

	// ItemID identifies the output item audio is being generated for.
	ItemID string

	// ContentIndex is the content part within the item, reset to 0 when
	// a new item is added.
	ContentIndex int

	// Responding reports whether the remote side is currently producing
	// a response.
	Responding bool
}

// begin transitions Idle -> Responding for a new response.
func (s *Session) begin(responseID string) {
	s.ResponseID = responseID
	s.ItemID = ""
	s.ContentIndex = 0
	s.Responding = true
}

// itemAdded records the output item audio will arrive under.
func (s *Session) itemAdded(itemID string) {
	s.ItemID = itemID
	s.ContentIndex = 0
}

// clear transitions back to Idle.
func (s *Session) clear() {
	*s = Session{}
}
