package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// dispatchBlockPattern mirrors completionBlockPattern's delimiter
// convention: the spec only says "stdout text that parses as a dispatch
// JSON object", which is ambiguous once the agent's reply also contains
// conversational prose, so the developer lane is required to wrap the
// payload the same way a worker wraps its completion.
var dispatchBlockPattern = regexp.MustCompile(`(?s)<dispatch>(.*?)</dispatch>`)

// ExtractDispatchPayload finds the first <dispatch>…</dispatch> block in a
// controller lane's output and unmarshals its JSON body. ok is false (not an
// error) when no block is present — plain chat replies carry none.
func ExtractDispatchPayload(output string) (Payload, bool, error) {
	m := dispatchBlockPattern.FindStringSubmatch(output)
	if m == nil {
		return Payload{}, false, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(m[1]), &p); err != nil {
		return Payload{}, true, fmt.Errorf("dispatch_malformed: %w", err)
	}
	return p, true, nil
}
