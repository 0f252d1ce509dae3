package loader

import (
	"encoding/binary"

	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

const wordSize = 4

// push places the bytes of buf onto the downward-growing stack in kpage,
// whose page-relative stack pointer is *ofs, rounding to a word boundary.
// Returns the page offset of the pushed object, or false on underflow.
func push(kpage []byte, ofs *uint32, buf []byte) (uint32, bool) {
	padded := (uint32(len(buf)) + wordSize - 1) &^ (wordSize - 1)
	if *ofs < padded {
		return 0, false
	}
	*ofs -= padded
	at := *ofs + (padded - uint32(len(buf)))
	copy(kpage[at:], buf)
	return at, true
}

// pushWord pushes one 32-bit little-endian word.
func pushWord(kpage []byte, ofs *uint32, w uint32) bool {
	var b [wordSize]byte
	binary.LittleEndian.PutUint32(b[:], w)
	_, ok := push(kpage, ofs, b[:])
	return ok
}

// reverse swaps the argc words at kpage[ofs:] end for end, correcting for
// the order the argument pointers were pushed in.
func reverse(kpage []byte, ofs uint32, argc int) {
	for i, j := 0, argc-1; i < j; i, j = i+1, j-1 {
		a := kpage[ofs+uint32(i*wordSize):][:wordSize]
		b := kpage[ofs+uint32(j*wordSize):][:wordSize]
		for k := 0; k < wordSize; k++ {
			a[k], b[k] = b[k], a[k]
		}
	}
}

// buildCmdLine lays out the initial argument stack in kpage, which is
// mapped at upage: the raw command line, tokenized in place; the argv
// pointer array (null-terminated); argv; argc; and a zero "return
// address". Padding keeps the final stack pointer 16-byte aligned, as the
// calling convention of the entered code requires.
func buildCmdLine(kpage []byte, upage types.VAddr, cmdline string) (types.VAddr, bool) {
	ofs := types.PageSize

	// Copy the command line onto the stack, NUL-terminated.
	raw := append([]byte(cmdline), 0)
	cmdOff, ok := push(kpage, &ofs, raw)
	if !ok {
		return 0, false
	}

	// Tokenize in place on word boundaries; argv entries point into the
	// pushed copy at user addresses.
	var args []types.VAddr
	inWord := false
	for i := cmdOff; kpage[i] != 0; i++ {
		if kpage[i] == ' ' {
			kpage[i] = 0
			inWord = false
		} else if !inWord {
			args = append(args, upage+types.VAddr(i))
			inWord = true
		}
	}
	argc := uint32(len(args))

	// Pad so that after the null terminator, argc+1 pointer words, argv,
	// argc, and the fake return address the stack pointer is 16-byte
	// aligned.
	used := types.PageSize - ofs
	pad := (16 - (used+argc*wordSize)%16) % 16
	if ofs < pad {
		return 0, false
	}
	ofs -= pad

	// argv[argc] terminator.
	if !pushWord(kpage, &ofs, 0) {
		return 0, false
	}

	// Argument pointers, reversed once into final order.
	for _, a := range args {
		if !pushWord(kpage, &ofs, uint32(a)) {
			return 0, false
		}
	}
	argv := upage + types.VAddr(ofs)
	reverse(kpage, ofs, int(argc))

	// argv, argc, "return address".
	if !pushWord(kpage, &ofs, uint32(argv)) ||
		!pushWord(kpage, &ofs, argc) ||
		!pushWord(kpage, &ofs, 0) {
		return 0, false
	}

	return upage + types.VAddr(ofs), true
}

// threadStackHeadroom keeps the top words of a thread stack clear, the
// way the first-thread builder leaves the command line above the frame.
const threadStackHeadroom = 12

// SetupThreadStack lays out an additional thread's startup frame in its
// freshly allocated stack page: the thread function pointer, its
// argument, and a zero sentinel the stub returns into. Returns the
// initial stack pointer.
func SetupThreadStack(kpage *mem.Page, upage types.VAddr, tfun, arg uint32) (types.VAddr, bool) {
	ofs := types.PageSize - threadStackHeadroom
	if !pushWord(kpage.Data, &ofs, arg) ||
		!pushWord(kpage.Data, &ofs, tfun) ||
		!pushWord(kpage.Data, &ofs, 0) {
		return 0, false
	}
	return upage + types.VAddr(ofs), true
}
