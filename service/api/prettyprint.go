package api

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

// PtrSize returns the size in bytes of the addresses of the walked thread.
func (st *StackTrace) PtrSize() int {
	if st.Arch == "x86" {
		return 4
	}
	return 8
}

// Header describes the walked thread on a single line.
func (st *StackTrace) Header() string {
	arch := st.Arch
	if st.Emulated {
		arch += ", emulated"
	}
	return fmt.Sprintf("thread %d of process %d (%s)", st.Tid, st.Pid, arch)
}

// FormatAddr formats addr zero padded to the width of a pointer.
func FormatAddr(addr uint64, ptrSize int) string {
	return fmt.Sprintf("%#0*x", ptrSize*2+2, addr)
}

// Location returns the symbolic location of the frame, followed by its
// source position when known.
func (f *Stackframe) Location() string {
	if f.File == "" {
		return f.Symbol
	}
	return fmt.Sprintf("%s [%s:%d]", f.Symbol, f.File, f.Line)
}

// PrettyExamineMemory formats memArea, read at address, in rows of
// values of size bytes each. format is one of 'x', 'd', 'o' and 'b'.
func PrettyExamineMemory(address uint64, memArea []byte, format byte, size int) string {
	var (
		cols      int
		colFormat string
		colBytes  = size

		addrLen int
		addrFmt string
	)

	switch format {
	case 'b':
		cols = 4 // Avoid emitting rows that are too long when using binary format
		colFormat = fmt.Sprintf("%%0%db", colBytes*8)
	case 'o':
		cols = 8
		colFormat = fmt.Sprintf("0%%0%do", colBytes*3) // Always keep one leading zero for octal.
	case 'd':
		cols = 8
		colFormat = fmt.Sprintf("%%0%dd", colBytes*3)
	case 'x':
		cols = 8
		colFormat = fmt.Sprintf("0x%%0%dx", colBytes*2) // Always keep one leading '0x' for hex.
	default:
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"

	l := len(memArea)
	rows := l / (cols * colBytes)
	if l%(cols*colBytes) != 0 {
		rows++
	}

	// Use the length of the last address for every row so that the columns
	// line up.
	if l != 0 {
		addrLen = len(fmt.Sprintf("%x", address+uint64(l)))
	}
	addrFmt = "0x%0" + strconv.Itoa(addrLen) + "x:\t"

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, addrFmt, address)

		for j := 0; j < cols; j++ {
			offset := i*(cols*colBytes) + j*colBytes
			if offset+colBytes <= len(memArea) {
				fmt.Fprintf(w, colFormat, byteArrayToUInt64(memArea[offset:offset+colBytes]))
			}
		}
		fmt.Fprintln(w, "")
		address += uint64(cols * colBytes)
	}
	w.Flush()
	return b.String()
}

// byteArrayToUInt64 decodes a little endian integer, every machine a
// thread can be walked as is little endian.
func byteArrayToUInt64(buf []byte) uint64 {
	var n uint64
	for i := len(buf) - 1; i >= 0; i-- {
		n = n<<8 + uint64(buf[i])
	}
	return n
}
