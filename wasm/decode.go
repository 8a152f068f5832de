package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	errs "github.com/motorwasm/motor/errors"
	"github.com/motorwasm/motor/wasm/internal/binary"
)

// Section names for error messages, indexed by section ID.
var sectionNames = [...]string{
	"custom", "type", "import", "function", "table", "memory",
	"global", "export", "start", "element", "code", "data",
}

// ParseModule parses a WebAssembly binary module. The returned Module is a
// static description of the binary; no validation beyond structural
// well-formedness is performed here (see Module.Validate).
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(bytes.NewReader(data))

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, malformed("preamble", "unexpected end of input")
	}
	if magic != Magic {
		return nil, malformed("preamble", fmt.Sprintf("invalid magic number 0x%08X", magic))
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, malformed("preamble", "unexpected end of input")
	}
	if version != Version {
		return nil, errs.Unsupported(errs.PhaseDecode, fmt.Sprintf("binary format version %d", version))
	}

	m := &Module{}
	lastID := byte(0)
	for {
		id, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, wrapDecode("module", err)
		}
		if id > SectionData {
			return nil, malformed("module", fmt.Sprintf("unknown section ID %d", id))
		}
		if id != SectionCustom {
			if id <= lastID {
				return nil, malformed(sectionNames[id], "section out of order")
			}
			lastID = id
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, wrapDecode(sectionNames[id], err)
		}
		if int(size) > r.Remaining() {
			return nil, malformed(sectionNames[id], fmt.Sprintf("section size %d exceeds remaining input", size))
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, wrapDecode(sectionNames[id], err)
		}
		sr := binary.NewReader(bytes.NewReader(payload))
		if err := parseSection(sr, m, id); err != nil {
			return nil, err
		}
		if sr.Remaining() != 0 {
			return nil, malformed(sectionNames[id], fmt.Sprintf("section size mismatch: %d bytes unconsumed", sr.Remaining()))
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, malformed("code", fmt.Sprintf("function count %d does not match code count %d", len(m.Funcs), len(m.Code)))
	}
	return m, nil
}

func parseSection(r *binary.Reader, m *Module, id byte) error {
	switch id {
	case SectionCustom:
		return parseCustomSection(r, m)
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return parseFunctionSection(r, m)
	case SectionTable:
		return parseTableSection(r, m)
	case SectionMemory:
		return parseMemorySection(r, m)
	case SectionGlobal:
		return parseGlobalSection(r, m)
	case SectionExport:
		return parseExportSection(r, m)
	case SectionStart:
		return parseStartSection(r, m)
	case SectionElement:
		return parseElementSection(r, m)
	case SectionCode:
		return parseCodeSection(r, m)
	case SectionData:
		return parseDataSection(r, m)
	}
	return nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return nameError("custom", err)
	}
	data, err := r.ReadRemaining()
	if err != nil {
		return wrapDecode("custom", err)
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "type")
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return wrapDecode("type", err)
		}
		if form != FuncTypeByte {
			return malformed("type", fmt.Sprintf("invalid function type form 0x%02X", form))
		}
		var ft FuncType
		if ft.Params, err = readValTypeVec(r, "type"); err != nil {
			return err
		}
		if ft.Results, err = readValTypeVec(r, "type"); err != nil {
			return err
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "import")
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = r.ReadName(); err != nil {
			return nameError("import", err)
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return nameError("import", err)
		}
		kind, err := r.ReadByte()
		if err != nil {
			return wrapDecode("import", err)
		}
		imp.Desc.Kind = kind
		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = r.ReadU32(); err != nil {
				return wrapDecode("import", err)
			}
		case KindTable:
			tt, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &tt
		case KindMemory:
			mt, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &mt
		case KindGlobal:
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &gt
		default:
			return malformed("import", fmt.Sprintf("invalid import kind 0x%02X", kind))
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "function")
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		typeIdx, err := r.ReadU32()
		if err != nil {
			return wrapDecode("function", err)
		}
		m.Funcs = append(m.Funcs, typeIdx)
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "table")
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tt, err := readTableType(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, tt)
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "memory")
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mt, err := readMemoryType(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, mt)
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "global")
	if err != nil {
		return err
	}
	m.Globals = make([]Global, 0, count)
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r, "global")
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "export")
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		var exp Export
		if exp.Name, err = r.ReadName(); err != nil {
			return nameError("export", err)
		}
		if exp.Kind, err = r.ReadByte(); err != nil {
			return wrapDecode("export", err)
		}
		if exp.Kind > KindGlobal {
			return malformed("export", fmt.Sprintf("invalid export kind 0x%02X", exp.Kind))
		}
		if exp.Idx, err = r.ReadU32(); err != nil {
			return wrapDecode("export", err)
		}
		m.Exports = append(m.Exports, exp)
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	funcIdx, err := r.ReadU32()
	if err != nil {
		return wrapDecode("start", err)
	}
	m.Start = &funcIdx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "element")
	if err != nil {
		return err
	}
	m.Elements = make([]Element, 0, count)
	for i := uint32(0); i < count; i++ {
		var elem Element
		if elem.TableIdx, err = r.ReadU32(); err != nil {
			return wrapDecode("element", err)
		}
		if elem.Offset, err = readInitExpr(r, "element"); err != nil {
			return err
		}
		n, err := readCount(r, "element")
		if err != nil {
			return err
		}
		elem.FuncIdxs = make([]uint32, n)
		for j := uint32(0); j < n; j++ {
			if elem.FuncIdxs[j], err = r.ReadU32(); err != nil {
				return wrapDecode("element", err)
			}
		}
		m.Elements = append(m.Elements, elem)
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "code")
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, count)
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return wrapDecode("code", err)
		}
		if int(size) > r.Remaining() {
			return malformed("code", fmt.Sprintf("function body size %d exceeds section", size))
		}
		bodyStart := r.Position()
		var body FuncBody
		localCount, err := r.ReadU32()
		if err != nil {
			return wrapDecode("code", err)
		}
		var total uint64
		body.Locals = make([]LocalEntry, 0, localCount)
		for j := uint32(0); j < localCount; j++ {
			var entry LocalEntry
			if entry.Count, err = r.ReadU32(); err != nil {
				return wrapDecode("code", err)
			}
			if entry.ValType, err = readValType(r, "code"); err != nil {
				return err
			}
			total += uint64(entry.Count)
			if total > 1<<20 {
				return malformed("code", "too many locals")
			}
			body.Locals = append(body.Locals, entry)
		}
		codeLen := int(size) - (r.Position() - bodyStart)
		if codeLen < 1 {
			return malformed("code", "function body truncated")
		}
		if body.Code, err = r.ReadBytes(codeLen); err != nil {
			return wrapDecode("code", err)
		}
		if body.Code[codeLen-1] != OpEnd {
			return malformed("code", "function body missing end opcode")
		}
		m.Code = append(m.Code, body)
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, "data")
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		var seg DataSegment
		if seg.MemIdx, err = r.ReadU32(); err != nil {
			return wrapDecode("data", err)
		}
		if seg.Offset, err = readInitExpr(r, "data"); err != nil {
			return err
		}
		n, err := r.ReadU32()
		if err != nil {
			return wrapDecode("data", err)
		}
		if int(n) > r.Remaining() {
			return malformed("data", fmt.Sprintf("data segment size %d exceeds section", n))
		}
		if seg.Init, err = r.ReadBytes(int(n)); err != nil {
			return wrapDecode("data", err)
		}
		m.Data = append(m.Data, seg)
	}
	return nil
}

func readValType(r *binary.Reader, section string) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, wrapDecode(section, err)
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64:
		return ValType(b), nil
	}
	return 0, malformed(section, fmt.Sprintf("invalid value type 0x%02X", b))
}

func readValTypeVec(r *binary.Reader, section string) ([]ValType, error) {
	count, err := readCount(r, section)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := uint32(0); i < count; i++ {
		if types[i], err = readValType(r, section); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func readLimits(r *binary.Reader, section string) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, wrapDecode(section, err)
	}
	if flags > LimitsHasMax {
		return Limits{}, malformed(section, fmt.Sprintf("invalid limits flags 0x%02X", flags))
	}
	var lim Limits
	if lim.Min, err = r.ReadU32(); err != nil {
		return Limits{}, wrapDecode(section, err)
	}
	if flags&LimitsHasMax != 0 {
		max, err := r.ReadU32()
		if err != nil {
			return Limits{}, wrapDecode(section, err)
		}
		lim.Max = &max
	}
	return lim, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := r.ReadByte()
	if err != nil {
		return TableType{}, wrapDecode("table", err)
	}
	if elemType != ElemTypeFuncRef {
		return TableType{}, malformed("table", fmt.Sprintf("invalid element type 0x%02X", elemType))
	}
	lim, err := readLimits(r, "table")
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elemType, Limits: lim}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	lim, err := readLimits(r, "memory")
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: lim}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r, "global")
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, wrapDecode("global", err)
	}
	if mut > 1 {
		return GlobalType{}, malformed("global", fmt.Sprintf("invalid mutability flag 0x%02X", mut))
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readInitExpr reads a constant initializer expression and returns its raw
// bytes including the terminating end opcode. Only t.const and global.get
// instructions may appear.
func readInitExpr(r *binary.Reader, section string) ([]byte, error) {
	start := r.Position()
	var raw bytes.Buffer
	op, err := r.ReadByte()
	if err != nil {
		return nil, wrapDecode(section, err)
	}
	raw.WriteByte(op)
	switch op {
	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return nil, wrapDecode(section, err)
		}
		WriteLEB128s(&raw, v)
	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return nil, wrapDecode(section, err)
		}
		WriteLEB128s64(&raw, v)
	case OpF32Const:
		v, err := r.ReadF32()
		if err != nil {
			return nil, wrapDecode(section, err)
		}
		WriteFloat32(&raw, v)
	case OpF64Const:
		v, err := r.ReadF64()
		if err != nil {
			return nil, wrapDecode(section, err)
		}
		WriteFloat64(&raw, v)
	case OpGlobalGet:
		v, err := r.ReadU32()
		if err != nil {
			return nil, wrapDecode(section, err)
		}
		WriteLEB128u(&raw, v)
	default:
		return nil, malformed(section, fmt.Sprintf("invalid opcode 0x%02X in constant expression at offset %d", op, start))
	}
	end, err := r.ReadByte()
	if err != nil {
		return nil, wrapDecode(section, err)
	}
	if end != OpEnd {
		return nil, malformed(section, "constant expression missing end opcode")
	}
	raw.WriteByte(end)
	return raw.Bytes(), nil
}

// readCount reads a vector length and sanity-checks it against the bytes
// still available, so a corrupt count cannot drive a huge allocation.
func readCount(r *binary.Reader, section string) (uint32, error) {
	count, err := r.ReadU32()
	if err != nil {
		return 0, wrapDecode(section, err)
	}
	if remaining := r.Remaining(); remaining >= 0 && int(count) > remaining {
		return 0, malformed(section, fmt.Sprintf("count %d exceeds section size", count))
	}
	return count, nil
}

func malformed(section, detail string) error {
	return errs.Malformed([]string{section}, detail)
}

func wrapDecode(section string, err error) error {
	if errors.Is(err, io.EOF) {
		return malformed(section, "unexpected end of section")
	}
	return errs.Wrap(errs.PhaseDecode, errs.KindMalformed, err, section+" section")
}

func nameError(section string, err error) error {
	if errors.Is(err, io.EOF) {
		return malformed(section, "unexpected end of section")
	}
	return errs.Wrap(errs.PhaseDecode, errs.KindInvalidUTF8, err, section+" section name")
}
