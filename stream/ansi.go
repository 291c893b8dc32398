package stream

import "regexp"

// ansi matches ANSI escape codes (color codes, cursor moves) so build and
// step output can be cleaned for consumers with no terminal to interpret
// escapes — a JSON/WebSocket client.
const ansi = "[\x1b\u009b][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?\x07)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))"

var ansiRe = regexp.MustCompile(ansi)

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
