// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"

	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

const (
	// elfMagic identifies an ELF file.
	elfMagic = "\x7fELF"

	// maxTotalPhdrSize is the maximum combined size of all program
	// headers.  Linux limits this to one page.
	maxTotalPhdrSize = hostarch.PageSize

	// maxInterpreterPathLen is the maximum length of a PT_INTERP path.
	maxInterpreterPathLen = 4096
)

var (
	// header64Size is the size of elf.Header64.
	header64Size = binary.Size(elf.Header64{})

	// prog64Size is the size of elf.Prog64.
	prog64Size = binary.Size(elf.Prog64{})
)

// File is an executable being loaded.
type File interface {
	io.ReaderAt

	// Size returns the file size in bytes.
	Size() int64
}

// elfInfo contains the basic ELF info extracted from the header.
type elfInfo struct {
	// arch is the architecture of the binary.
	arch arch.Arch

	// entry is the program entry point.
	entry hostarch.Addr

	// phdrs are program headers.
	phdrs []elf.ProgHeader

	// phdrSize is the size of a single program header in the ELF.
	phdrSize int

	// phdrOff is the offset of the program headers in the file.
	phdrOff uint64

	// sharedObject is true if the ELF represents a shared object.
	sharedObject bool
}

// parseHeader parse the ELF header, verifying that this is a supported ELF
// file and returning the ELF program headers.
//
// This is similar to elf.NewFile, except that it is more strict about what it
// accepts from the ELF, and it doesn't parse unnecessary parts of the file.
func parseHeader(f File) (elfInfo, error) {
	var ident [elf.EI_NIDENT]byte
	if _, err := f.ReadAt(ident[:], 0); err != nil {
		log.Infof("Error reading ELF ident: %v", err)
		// The entire ident array always exists.
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = linuxerr.ENOEXEC
		}
		return elfInfo{}, err
	}

	// Only some callers pre-check the ELF magic.
	if !bytes.Equal(ident[:elf.EI_CLASS], []byte(elfMagic)) {
		log.Infof("File is not an ELF")
		return elfInfo{}, linuxerr.ENOEXEC
	}

	// We only support 64-bit, little endian binaries
	if class := elf.Class(ident[elf.EI_CLASS]); class != elf.ELFCLASS64 {
		log.Infof("Unsupported ELF class: %v", class)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if endian := elf.Data(ident[elf.EI_DATA]); endian != elf.ELFDATA2LSB {
		log.Infof("Unsupported ELF endianness: %v", endian)
		return elfInfo{}, linuxerr.ENOEXEC
	}

	if version := elf.Version(ident[elf.EI_VERSION]); version != elf.EV_CURRENT {
		log.Infof("Unsupported ELF version: %v", version)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	// EI_OSABI is ignored, as Linux does.

	var hdr elf.Header64
	hdrBuf := make([]byte, header64Size)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		log.Infof("Error reading ELF header: %v", err)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = linuxerr.ENOEXEC
		}
		return elfInfo{}, err
	}
	if err := binary.Read(bytes.NewReader(hdrBuf), binary.LittleEndian, &hdr); err != nil {
		return elfInfo{}, linuxerr.ENOEXEC
	}

	if elf.Version(hdr.Version) != elf.EV_CURRENT {
		log.Infof("Unsupported ELF version: %v", hdr.Version)
		return elfInfo{}, linuxerr.ENOEXEC
	}

	var a arch.Arch
	switch machine := elf.Machine(hdr.Machine); machine {
	case elf.EM_X86_64:
		a = arch.AMD64
	case elf.EM_AARCH64:
		a = arch.ARM64
	default:
		log.Infof("Unsupported ELF machine %d", machine)
		return elfInfo{}, linuxerr.ENOEXEC
	}

	var sharedObject bool
	elfType := elf.Type(hdr.Type)
	switch elfType {
	case elf.ET_EXEC:
		sharedObject = false
	case elf.ET_DYN:
		sharedObject = true
	default:
		log.Infof("Unsupported ELF type %v", elfType)
		return elfInfo{}, linuxerr.ENOEXEC
	}

	if int(hdr.Phentsize) != prog64Size {
		log.Infof("Unsupported phdr size %d", hdr.Phentsize)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	totalPhdrSize := prog64Size * int(hdr.Phnum)
	if hdr.Phnum == 0 || totalPhdrSize > maxTotalPhdrSize {
		log.Infof("Unsupported phdr count %d", hdr.Phnum)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if end := hdr.Phoff + uint64(totalPhdrSize); end < hdr.Phoff || int64(end) > f.Size() {
		log.Infof("Program headers extend beyond the end of the file")
		return elfInfo{}, linuxerr.ENOEXEC
	}

	phdrBuf := make([]byte, totalPhdrSize)
	if _, err := f.ReadAt(phdrBuf, int64(hdr.Phoff)); err != nil {
		log.Infof("Error reading ELF phdrs: %v", err)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = linuxerr.ENOEXEC
		}
		return elfInfo{}, err
	}

	phdrs := make([]elf.ProgHeader, hdr.Phnum)
	for i := range phdrs {
		var prog64 elf.Prog64
		if err := binary.Read(bytes.NewReader(phdrBuf[i*prog64Size:(i+1)*prog64Size]), binary.LittleEndian, &prog64); err != nil {
			return elfInfo{}, linuxerr.ENOEXEC
		}
		phdrs[i] = elf.ProgHeader{
			Type:   elf.ProgType(prog64.Type),
			Flags:  elf.ProgFlag(prog64.Flags),
			Off:    prog64.Off,
			Vaddr:  prog64.Vaddr,
			Paddr:  prog64.Paddr,
			Filesz: prog64.Filesz,
			Memsz:  prog64.Memsz,
			Align:  prog64.Align,
		}
	}

	return elfInfo{
		arch:         a,
		entry:        hostarch.Addr(hdr.Entry),
		phdrs:        phdrs,
		phdrOff:      hdr.Phoff,
		phdrSize:     prog64Size,
		sharedObject: sharedObject,
	}, nil
}

// progFlagsAsPerms converts ELF progFlags to hostarch.AccessType.
func progFlagsAsPerms(f elf.ProgFlag) hostarch.AccessType {
	var p hostarch.AccessType
	if f&elf.PF_R == elf.PF_R {
		p.Read = true
	}
	if f&elf.PF_W == elf.PF_W {
		p.Write = true
	}
	if f&elf.PF_X == elf.PF_X {
		p.Execute = true
	}
	return p
}

// segment is a validated PT_LOAD segment with the load bias applied.
type segment struct {
	// vaddr is the address of the first file byte.
	vaddr hostarch.Addr

	// fileOff and filesz locate the file bytes.
	fileOff uint64
	filesz  uint64

	// memsz is the size in memory; bytes past filesz are zero.
	memsz uint64

	perms hostarch.AccessType
}

// mapping is a page range to be mapped with uniform permissions.
type mapping struct {
	ar    hostarch.AddrRange
	perms hostarch.AccessType
}

// layout is the complete address-space plan for one ELF image. It is
// computed and validated before anything is mapped.
type layout struct {
	info elfInfo

	// bias is added to every virtual address in the file.
	bias hostarch.Addr

	segments []segment
	mappings []mapping

	// start and end bound the mapped image.
	start hostarch.Addr
	end   hostarch.Addr

	// entry is the biased entry point.
	entry hostarch.Addr

	// interpreter is the PT_INTERP path, if any.
	interpreter string

	// phdrAddr is the address of the program headers in memory, or zero.
	phdrAddr hostarch.Addr

	// dynamic is the biased PT_DYNAMIC address, or zero.
	dynamic hostarch.Addr

	// execStack is set by PT_GNU_STACK with PF_X.
	execStack bool
}

// size returns the total number of bytes the layout maps.
func (l *layout) size() uint64 {
	var n uint64
	for _, m := range l.mappings {
		n += m.ar.Length()
	}
	return n
}

// addMapping appends the page range ar to ms. A page shared with the
// previous segment gets the union of both permissions.
func addMapping(ms []mapping, ar hostarch.AddrRange, perms hostarch.AccessType) []mapping {
	if n := len(ms); n > 0 && ar.Start < ms[n-1].ar.End {
		prev := ms[n-1]
		shared := hostarch.AddrRange{Start: ar.Start, End: prev.ar.End}
		ms = ms[:n-1]
		if prev.ar.Start < shared.Start {
			ms = append(ms, mapping{hostarch.AddrRange{Start: prev.ar.Start, End: shared.Start}, prev.perms})
		}
		ms = append(ms, mapping{shared, prev.perms.Union(perms)})
		ar.Start = shared.End
	}
	if ar.Start < ar.End {
		ms = append(ms, mapping{ar, perms})
	}
	return ms
}

// computeLayout validates info's program headers against f and computes the
// layout of the image at the given base. For ET_DYN images, the lowest
// PT_LOAD segment is placed at base; ET_EXEC images ignore base.
func computeLayout(f File, info elfInfo, base hostarch.Addr) (*layout, error) {
	l := &layout{info: info}
	size := uint64(f.Size())

	// Find the lowest PT_LOAD address to compute the bias.
	var (
		first   = true
		minAddr hostarch.Addr
	)
	for _, phdr := range info.phdrs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if first || hostarch.Addr(phdr.Vaddr) < minAddr {
			minAddr = hostarch.Addr(phdr.Vaddr)
		}
		first = false
	}
	if first {
		log.Infof("ELF has no PT_LOAD segments")
		return nil, linuxerr.ENOEXEC
	}
	if info.sharedObject {
		l.bias = base - minAddr.RoundDown()
	}

	var prevEnd hostarch.Addr
	for _, phdr := range info.phdrs {
		switch phdr.Type {
		case elf.PT_LOAD:
			if phdr.Filesz > phdr.Memsz {
				log.Infof("PT_LOAD segment filesz %#x > memsz %#x", phdr.Filesz, phdr.Memsz)
				return nil, linuxerr.ENOEXEC
			}
			if end := phdr.Off + phdr.Filesz; end < phdr.Off || end > size {
				log.Infof("PT_LOAD segment [%#x, %#x) extends beyond end of file %#x", phdr.Off, phdr.Off+phdr.Filesz, size)
				return nil, linuxerr.ENOEXEC
			}
			if phdr.Memsz == 0 {
				continue
			}
			vaddr := hostarch.Addr(phdr.Vaddr) + l.bias
			end, ok := vaddr.AddLength(phdr.Memsz)
			if !ok || end > arch.MaxUserAddress || vaddr < hostarch.PageSize {
				log.Infof("PT_LOAD segment [%v, +%#x) is outside the user address space", vaddr, phdr.Memsz)
				return nil, linuxerr.ENOEXEC
			}
			if vaddr < prevEnd {
				log.Infof("PT_LOAD segment at %v overlaps previous segment ending at %v", vaddr, prevEnd)
				return nil, linuxerr.ENOEXEC
			}
			prevEnd = end

			perms := progFlagsAsPerms(phdr.Flags)
			l.segments = append(l.segments, segment{
				vaddr:   vaddr,
				fileOff: phdr.Off,
				filesz:  phdr.Filesz,
				memsz:   phdr.Memsz,
				perms:   perms,
			})
			ar := hostarch.AddrRange{Start: vaddr.RoundDown(), End: end.MustRoundUp()}
			l.mappings = addMapping(l.mappings, ar, perms)

			// Find the program headers if no PT_PHDR is present.
			if l.phdrAddr == 0 && phdr.Off <= info.phdrOff && info.phdrOff-phdr.Off < phdr.Filesz {
				l.phdrAddr = vaddr + hostarch.Addr(info.phdrOff-phdr.Off)
			}

		case elf.PT_INTERP:
			if l.interpreter != "" {
				log.Infof("ELF has multiple PT_INTERP segments")
				return nil, linuxerr.ENOEXEC
			}
			if phdr.Filesz < 2 || phdr.Filesz > maxInterpreterPathLen {
				log.Infof("PT_INTERP path size %d is invalid", phdr.Filesz)
				return nil, linuxerr.ENOEXEC
			}
			path := make([]byte, phdr.Filesz)
			if _, err := f.ReadAt(path, int64(phdr.Off)); err != nil {
				log.Infof("Error reading PT_INTERP path: %v", err)
				return nil, linuxerr.ENOEXEC
			}
			// Linux requires the path to be NUL-terminated.
			if path[len(path)-1] != 0 {
				log.Infof("PT_INTERP path not NUL-terminated: %q", path)
				return nil, linuxerr.ENOEXEC
			}
			// Strip the NUL and anything after an embedded NUL.
			if i := bytes.IndexByte(path, 0); i >= 0 {
				path = path[:i]
			}
			if len(path) == 0 {
				return nil, linuxerr.ENOEXEC
			}
			l.interpreter = string(path)

		case elf.PT_PHDR:
			l.phdrAddr = hostarch.Addr(phdr.Vaddr) + l.bias

		case elf.PT_DYNAMIC:
			l.dynamic = hostarch.Addr(phdr.Vaddr) + l.bias

		case elf.PT_GNU_STACK:
			l.execStack = phdr.Flags&elf.PF_X == elf.PF_X
		}
	}
	if len(l.segments) == 0 {
		log.Infof("ELF has no non-empty PT_LOAD segments")
		return nil, linuxerr.ENOEXEC
	}

	l.start = l.mappings[0].ar.Start
	l.end = l.mappings[len(l.mappings)-1].ar.End
	l.entry = info.entry + l.bias
	return l, nil
}

// mapLayout maps l into m and copies the file contents.
//
// Preconditions: l was computed by computeLayout for f.
func mapLayout(m *mm.MemoryManager, f File, l *layout, name string) error {
	for _, mp := range l.mappings {
		if _, err := m.MMap(mm.MMapOpts{
			Length:   mp.ar.Length(),
			Addr:     mp.ar.Start,
			Fixed:    true,
			Perms:    mp.perms,
			MaxPerms: hostarch.AnyAccess,
			Private:  true,
			Kind:     mm.RegionFile,
			Name:     name,
		}); err != nil {
			log.Infof("Error mapping PT_LOAD range %v: %v", mp.ar, err)
			return err
		}
	}
	for _, s := range l.segments {
		if s.filesz == 0 {
			continue
		}
		buf := make([]byte, s.filesz)
		if _, err := f.ReadAt(buf, int64(s.fileOff)); err != nil && err != io.EOF {
			log.Infof("Error reading PT_LOAD segment at %#x: %v", s.fileOff, err)
			return linuxerr.EIO
		}
		// Bytes past filesz are already zero in the fresh mapping.
		if _, err := m.CopyOut(s.vaddr, buf, mm.IOOpts{IgnorePermissions: true}); err != nil {
			return err
		}
	}
	return nil
}

// OpenFunc opens the guest executable at path.
type OpenFunc func(path string) (File, error)

// ImageInfo describes a loaded executable and its interpreter.
type ImageInfo struct {
	// Arch is the image architecture.
	Arch arch.Arch

	// Entry is where execution starts: the interpreter entry point if there
	// is one, else the image entry point.
	Entry hostarch.Addr

	// ImageEntry is the entry point of the executable itself.
	ImageEntry hostarch.Addr

	// Start and End bound the executable's mappings. End is the initial
	// program break.
	Start hostarch.Addr
	End   hostarch.Addr

	// InterpreterBase is the load address of the interpreter, or zero.
	InterpreterBase hostarch.Addr

	// Interpreter is the PT_INTERP path, or empty.
	Interpreter string

	// PhdrAddr, PhdrSize and PhdrNum describe the executable's program
	// headers in memory.
	PhdrAddr hostarch.Addr
	PhdrSize int
	PhdrNum  int

	// Dynamic is the address of the executable's PT_DYNAMIC segment, or
	// zero for static executables.
	Dynamic hostarch.Addr

	// ExecStack is true if PT_GNU_STACK requested an executable stack.
	ExecStack bool
}

// LoadELF loads f, and its interpreter if it names one, into m. name is
// shown for the image's mappings in /proc/[pid]/maps.
//
// The layouts of both images are validated, and checked against m's memory
// budget, before anything is mapped: an invalid or oversized image leaves m
// untouched and returns ENOEXEC or ENOMEM. The interpreter is mapped first.
func LoadELF(m *mm.MemoryManager, f File, name string, open OpenFunc) (ImageInfo, error) {
	info, err := parseHeader(f)
	if err != nil {
		return ImageInfo{}, err
	}
	bin, err := computeLayout(f, info, arch.PIELoadAddress)
	if err != nil {
		return ImageInfo{}, err
	}
	total := bin.size()

	var (
		interp     *layout
		interpFile File
	)
	if bin.interpreter != "" {
		if open == nil {
			log.Infof("No opener for interpreter %q", bin.interpreter)
			return ImageInfo{}, linuxerr.ENOEXEC
		}
		interpFile, err = open(bin.interpreter)
		if err != nil {
			log.Infof("Error opening interpreter %q: %v", bin.interpreter, err)
			return ImageInfo{}, err
		}
		iinfo, err := parseHeader(interpFile)
		if err != nil {
			log.Infof("Error parsing interpreter %q: %v", bin.interpreter, err)
			return ImageInfo{}, err
		}
		if iinfo.arch != info.arch {
			log.Infof("Interpreter arch %v does not match binary arch %v", iinfo.arch, info.arch)
			return ImageInfo{}, linuxerr.ELIBBAD
		}
		interp, err = computeLayout(interpFile, iinfo, arch.InterpreterLoadAddress)
		if err != nil {
			return ImageInfo{}, err
		}
		if interp.interpreter != "" {
			// No recursive interpreters.
			log.Infof("Interpreter %q requires its own interpreter %q", bin.interpreter, interp.interpreter)
			return ImageInfo{}, linuxerr.ELIBBAD
		}
		if interp.start < bin.end && bin.start < interp.end {
			log.Infof("Interpreter [%v, %v) overlaps image [%v, %v)", interp.start, interp.end, bin.start, bin.end)
			return ImageInfo{}, linuxerr.ENOEXEC
		}
		total += interp.size()
	}
	if budget := m.Budget(); budget != 0 && m.VirtualMemorySize()+total > budget {
		log.Infof("Image needs %d bytes, budget is %d", total, budget)
		return ImageInfo{}, linuxerr.ENOMEM
	}

	var ii ImageInfo
	if interp != nil {
		if err := mapLayout(m, interpFile, interp, bin.interpreter); err != nil {
			return ImageInfo{}, err
		}
		ii.InterpreterBase = interp.start
		ii.Interpreter = bin.interpreter
	}
	if err := mapLayout(m, f, bin, name); err != nil {
		return ImageInfo{}, err
	}

	ii.Arch = info.arch
	ii.ImageEntry = bin.entry
	ii.Entry = bin.entry
	if interp != nil {
		ii.Entry = interp.entry
	}
	ii.Start = bin.start
	ii.End = bin.end
	ii.PhdrAddr = bin.phdrAddr
	ii.PhdrSize = info.phdrSize
	ii.PhdrNum = len(info.phdrs)
	ii.Dynamic = bin.dynamic
	ii.ExecStack = bin.execStack
	return ii, nil
}
