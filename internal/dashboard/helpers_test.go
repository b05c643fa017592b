package dashboard

import (
	"io"
	"log"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
