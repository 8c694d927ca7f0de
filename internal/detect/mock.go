package detect

import "context"

// MockDetector implements Detector with a scripted reply. For tests and for
// running the pipeline without a model endpoint.
type MockDetector struct {
	// Reply is the raw text handed to the parser. Empty means "no damages found".
	Reply string
	// Err, when set, is returned instead of a result (simulated transport failure).
	Err error
}

// Detect parses the scripted reply, ignoring the image.
func (d *MockDetector) Detect(_ context.Context, _ []byte) (*StructuredResult, error) {
	if d.Err != nil {
		return nil, d.Err
	}

	reply := d.Reply
	if reply == "" {
		reply = `{"damages":[],"riskLevel":"low","summary":"no visible damage"}`
	}

	return Parse(reply), nil
}

var _ Detector = (*MockDetector)(nil)
