package jstimer

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// NewLogger returns a JSON logger, writing to w (os.Stderr if nil), for use
// with [WithLogger]. Events below level are discarded.
//
// Any other logiface implementation may be used instead, e.g. to integrate
// with an existing zerolog or logrus setup.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}
