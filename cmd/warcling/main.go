// Command warcling is a Wget-compatible recursive web archiver: it crawls
// one or more seed URLs, recording every HTTP exchange to disk and/or a
// WARC file.
package main

import (
	"github.com/rohmanhakim/warcling/internal/cli"
)

func main() {
	cmd.Execute()
}
