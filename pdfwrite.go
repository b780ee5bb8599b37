package squish

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zlib"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// placedObject is an indirect object at a known offset in the source.
type placedObject struct {
	nr, gen int
	off     int
	obj     types.Object
}

var objHeader = regexp.MustCompile(`^[\x00\t\n\f\r ]*(\d+)[\x00\t\n\f\r ]+(\d+)[\x00\t\n\f\r ]+obj`)

var errObjectLayout = errors.New("object layout does not match the cross-reference table")

// spliceObjects rebuilds pdf with the objects in repl replaced. Every
// other live object is copied byte for byte, the header is kept, and a
// single cross-reference section with its trailer closes the file.
// Superseded revisions and the old cross-reference data are dropped.
func spliceObjects(pdf []byte, xt *model.XRefTable, repl map[int][]byte) ([]byte, error) {
	size := 0
	if xt.Size != nil {
		size = *xt.Size
	}

	var (
		placed     []placedObject
		compressed bool
	)
	for nr, e := range xt.Table {
		size = max(size, nr+1)
		if nr == 0 || e == nil || e.Free {
			continue
		}
		if e.Compressed {
			compressed = true
			continue
		}
		if e.Offset == nil || *e.Offset <= 0 || *e.Offset >= int64(len(pdf)) {
			continue
		}
		// Cross-reference streams are regenerated below.
		if _, ok := e.Object.(types.XRefStreamDict); ok {
			continue
		}
		gen := 0
		if e.Generation != nil {
			gen = *e.Generation
		}
		placed = append(placed, placedObject{nr: nr, gen: gen, off: int(*e.Offset), obj: e.Object})
	}
	if len(placed) == 0 {
		return nil, errObjectLayout
	}
	sort.Slice(placed, func(i, j int) bool { return placed[i].off < placed[j].off })

	var buf bytes.Buffer
	buf.Grow(len(pdf))
	buf.Write(pdf[:placed[0].off])

	offsets := make(map[int]int, len(placed))
	for i, o := range placed {
		limit := len(pdf)
		if i+1 < len(placed) {
			limit = placed[i+1].off
		}
		body, ok := repl[o.nr]
		if !ok {
			end, err := objectEnd(pdf, o, limit)
			if err != nil {
				return nil, err
			}
			body = pdf[o.off:end]
		}
		offsets[o.nr] = buf.Len()
		buf.Write(body)
		if n := len(body); n == 0 || (body[n-1] != '\n' && body[n-1] != '\r') {
			buf.WriteByte('\n')
		}
	}

	if compressed {
		if err := writeXRefStream(&buf, xt, size, offsets); err != nil {
			return nil, err
		}
	} else {
		writeXRefTable(&buf, xt, size, offsets)
	}
	return buf.Bytes(), nil
}

// objectEnd returns the offset just past the endobj keyword of o. Stream
// payloads are skipped so binary data cannot end the object early.
func objectEnd(pdf []byte, o placedObject, limit int) (int, error) {
	m := objHeader.FindSubmatch(pdf[o.off:limit])
	if m == nil {
		return 0, fmt.Errorf("object %d: %w", o.nr, errObjectLayout)
	}
	if nr, _ := strconv.Atoi(string(m[1])); nr != o.nr {
		return 0, fmt.Errorf("object %d: found %d at its offset: %w", o.nr, nr, errObjectLayout)
	}

	from := o.off
	var sd *types.StreamDict
	switch s := o.obj.(type) {
	case types.StreamDict:
		sd = &s
	case types.ObjectStreamDict:
		sd = &s.StreamDict
	}
	if sd != nil && sd.StreamLength != nil {
		if end := sd.StreamOffset + *sd.StreamLength; end > int64(o.off) && end <= int64(limit) {
			from = int(end)
		}
	}

	i := bytes.Index(pdf[from:limit], []byte("endobj"))
	if i < 0 {
		return 0, fmt.Errorf("object %d: missing endobj: %w", o.nr, errObjectLayout)
	}
	return from + i + len("endobj"), nil
}

// trailerRefs renders the trailer entries carried over from the source.
func trailerRefs(xt *model.XRefTable) string {
	var b bytes.Buffer
	if xt.Root != nil {
		fmt.Fprintf(&b, " /Root %s", xt.Root.PDFString())
	}
	if xt.Info != nil {
		fmt.Fprintf(&b, " /Info %s", xt.Info.PDFString())
	}
	if len(xt.ID) > 0 {
		fmt.Fprintf(&b, " /ID %s", xt.ID.PDFString())
	}
	return b.String()
}

func writeXRefTable(buf *bytes.Buffer, xt *model.XRefTable, size int, offsets map[int]int) {
	start := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f\r\n")
	for nr := 1; nr < size; nr++ {
		off, ok := offsets[nr]
		if !ok {
			buf.WriteString("0000000000 00000 f\r\n")
			continue
		}
		gen := 0
		if e := xt.Table[nr]; e != nil && e.Generation != nil {
			gen = *e.Generation
		}
		fmt.Fprintf(buf, "%010d %05d n\r\n", off, gen)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d%s >>\nstartxref\n%d\n%%%%EOF\n", size, trailerRefs(xt), start)
}

// writeXRefStream appends a cross-reference stream as object size, for
// files whose objects live partly in object streams.
func writeXRefStream(buf *bytes.Buffer, xt *model.XRefTable, size int, offsets map[int]int) error {
	self := size
	start := buf.Len()
	offsets[self] = start
	if int64(start) > math.MaxUint32 {
		return fmt.Errorf("xref offset %d: %w", start, errObjectLayout)
	}

	rows := make([]byte, 0, (size+1)*9)
	row := make([]byte, 9)
	for nr := 0; nr <= self; nr++ {
		clear(row)
		e := xt.Table[nr]
		switch off, ok := offsets[nr]; {
		case ok:
			row[0] = 1
			binary.BigEndian.PutUint32(row[1:5], uint32(off))
			if e != nil && e.Generation != nil {
				binary.BigEndian.PutUint32(row[5:9], uint32(*e.Generation))
			}
		case e != nil && !e.Free && e.Compressed && e.ObjectStream != nil && e.ObjectStreamInd != nil:
			row[0] = 2
			binary.BigEndian.PutUint32(row[1:5], uint32(*e.ObjectStream))
			binary.BigEndian.PutUint32(row[5:9], uint32(*e.ObjectStreamInd))
		case nr == 0:
			binary.BigEndian.PutUint32(row[5:9], 65535)
		}
		rows = append(rows, row...)
	}

	var data bytes.Buffer
	zw := zlib.NewWriter(&data)
	if _, err := zw.Write(rows); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	fmt.Fprintf(buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 4] /Filter /FlateDecode /Length %d%s >>\nstream\n",
		self, self+1, data.Len(), trailerRefs(xt))
	buf.Write(data.Bytes())
	fmt.Fprintf(buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", start)
	return nil
}

// streamObjectBytes serializes an indirect stream object.
func streamObjectBytes(nr, gen int, sd types.StreamDict) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d %d obj\n%s\nstream\n", nr, gen, sd.Dict.PDFString())
	b.Write(sd.Raw)
	b.WriteString("\nendstream\nendobj\n")
	return b.Bytes()
}
