// Package elfx provides helpers for opening ELF binaries, locating code
// sections, mapping virtual addresses to file offsets, and enumerating
// function symbols.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"syscall"
)

type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Loads []Seg
	Text  Section
	f     *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

// FuncSym is a defined function symbol. Size may be zero for hand-written
// assembly; callers bound such functions by the next symbol start.
type FuncSym struct {
	Name string
	Addr uint64
	Size uint64
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	if s := f.Section(".text"); s != nil {
		im.Text = Section{s.Name, s.Addr, s.Offset, s.Size}
	}
	// Fallback for sectionless binaries: first executable load segment.
	if im.Text.Size == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// VA2Off translates a virtual address into a file offset using PT_LOAD
// segments. It returns false if the VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	// Relocatable objects have no program headers; fall back to sections.
	if len(im.Loads) == 0 && im.Text.Size != 0 && va >= im.Text.VA && va < im.Text.VA+im.Text.Size {
		return im.Text.Off + (va - im.Text.VA), true
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file for the virtual address
// range [va, va+size), or (nil, false) if the range is unmapped.
func (im *Image) SliceVA(va, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// FuncSyms returns the defined STT_FUNC symbols from .symtab and .dynsym,
// deduplicated by address and sorted ascending. Zero-size symbols are
// bounded by the following symbol or the end of .text.
func (im *Image) FuncSyms() []FuncSym {
	byAddr := make(map[uint64]FuncSym)
	collect := func(syms []elf.Symbol) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
				continue
			}
			if existing, ok := byAddr[s.Value]; !ok || existing.Size < s.Size {
				byAddr[s.Value] = FuncSym{Name: s.Name, Addr: s.Value, Size: s.Size}
			}
		}
	}
	if syms, err := im.File.Symbols(); err == nil {
		collect(syms)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		collect(syms)
	}

	out := make([]FuncSym, 0, len(byAddr))
	for _, s := range byAddr {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })

	textEnd := im.Text.VA + im.Text.Size
	for i := range out {
		if out[i].Size != 0 {
			continue
		}
		if i+1 < len(out) {
			out[i].Size = out[i+1].Addr - out[i].Addr
		} else if textEnd > out[i].Addr {
			out[i].Size = textEnd - out[i].Addr
		}
	}
	return out
}
