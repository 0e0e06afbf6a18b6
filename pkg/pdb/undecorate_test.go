package pdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUndecorate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"KiProcessorBlock", "KiProcessorBlock"},
		{"_KeBugCheckEx@20", "KeBugCheckEx"},
		{"@KfRaiseIrql@4", "KfRaiseIrql"},
		{"_KiSystemStartup", "KiSystemStartup"},
		{"__security_cookie", "__security_cookie"},
		{"__imp_ExAllocatePool", "ExAllocatePool"},
		{"__imp__KeBugCheckEx@20", "KeBugCheckEx"},
		{"?Run@Worker@@QEAAXXZ", "Worker::Run"},
		{"?Get@Inner@Outer@@SAHXZ", "Outer::Inner::Get"},
		{"?Reset@0@@QEAAXXZ", "Reset::Reset"},
		{"??0Worker@@QEAA@XZ", "??0Worker@@QEAA@XZ"},
		{"_", "_"},
		{"name@abc", "name@abc"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Undecorate(tt.in))
		})
	}
}
