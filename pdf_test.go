package squish

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zlib"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ── PDF fixtures ────────────────────────────────────────────────────────────

type imageSpec struct {
	w, h       int
	colorSpace string
	bpc        int
	// predictor, when set, PNG-filters rows with Up before deflating and
	// declares /Predictor 15 in DecodeParms.
	predictor bool
	// declaredW overrides the /Width written to the dictionary.
	declaredW int
}

func (s imageSpec) channels() int {
	if s.colorSpace == "DeviceGray" {
		return 1
	}
	return 3
}

func (s imageSpec) samples() []byte {
	n := s.channels()
	out := make([]byte, 0, s.w*s.h*n)
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			for c := 0; c < n; c++ {
				out = append(out, uint8((x*7+y*13+c*50)%256))
			}
		}
	}
	return out
}

func (s imageSpec) stream(t testing.TB) []byte {
	t.Helper()
	raw := s.samples()
	if s.predictor {
		row := s.w * s.channels()
		filtered := make([]byte, 0, len(raw)+s.h)
		prev := make([]byte, row)
		for y := 0; y < s.h; y++ {
			cur := raw[y*row : (y+1)*row]
			filtered = append(filtered, 2)
			for i := range cur {
				filtered = append(filtered, cur[i]-prev[i])
			}
			prev = cur
		}
		raw = filtered
	}
	return deflate(t, raw)
}

func (s imageSpec) dict() string {
	w := s.w
	if s.declaredW != 0 {
		w = s.declaredW
	}
	d := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent %d /Filter /FlateDecode",
		w, s.h, s.colorSpace, s.bpc)
	if s.predictor {
		d += fmt.Sprintf(" /DecodeParms << /Predictor 15 /Colors %d /BitsPerComponent 8 /Columns %d >>", s.channels(), s.w)
	}
	return d
}

func streamObject(dict string, data []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< %s /Length %d >>\nstream\n", dict, len(data))
	b.Write(data)
	b.WriteString("\nendstream")
	return b.Bytes()
}

// buildPDF lays out objects 1..n with a classic xref table. Object 1
// must be the catalog.
func buildPDF(objs ...[]byte) []byte {
	return buildPDFTrailer("", objs...)
}

// buildPDFTrailer is buildPDF with extra trailer entries.
func buildPDFTrailer(trailer string, objs ...[]byte) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n", i+1)
		b.Write(o)
		b.WriteString("\nendobj\n")
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objs)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R %s>>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, trailer, xref)
	return b.Bytes()
}

var (
	catalogObj = []byte("<< /Type /Catalog /Pages 2 0 R >>")
	pagesObj   = []byte("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	pageObj    = []byte("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100 100] /Resources << /XObject << /Im0 4 0 R >> >> /Contents 5 0 R >>")
	contentObj = streamObject("", []byte("q 100 0 0 100 0 0 cm /Im0 Do Q"))
)

// imagePDFObjects returns the objects of a one-page PDF whose image
// XObject is object 4.
func imagePDFObjects(t testing.TB, img imageSpec) [][]byte {
	t.Helper()
	return [][]byte{catalogObj, pagesObj, pageObj, streamObject(img.dict(), img.stream(t)), contentObj}
}

func buildImagePDF(t testing.TB, img imageSpec) []byte {
	t.Helper()
	return buildPDF(imagePDFObjects(t, img)...)
}

func deflate(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// buildObjStmPDF stores the catalog, page tree and page in an object
// stream (object 6) indexed by a cross-reference stream (object 7). The
// image is object 4 and the content stream object 5.
func buildObjStmPDF(t testing.TB, img imageSpec) []byte {
	t.Helper()
	var prolog, body bytes.Buffer
	for i, o := range [][]byte{catalogObj, pagesObj, pageObj} {
		fmt.Fprintf(&prolog, "%d %d ", i+1, body.Len())
		body.Write(o)
		body.WriteByte(' ')
	}
	objStm := deflate(t, append(prolog.Bytes(), body.Bytes()...))

	var b bytes.Buffer
	b.WriteString("%PDF-1.5\n%\xe2\xe3\xcf\xd3\n")
	offsets := make(map[int]int)
	write := func(nr int, obj []byte) {
		offsets[nr] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n", nr)
		b.Write(obj)
		b.WriteString("\nendobj\n")
	}
	write(4, streamObject(img.dict(), img.stream(t)))
	write(5, contentObj)
	write(6, streamObject(fmt.Sprintf("/Type /ObjStm /N 3 /First %d /Filter /FlateDecode", prolog.Len()), objStm))

	xref := b.Len()
	var rows []byte
	rows = append(rows, 0, 0, 0, 0, 0, 0xff, 0xff)
	for i := 0; i < 3; i++ {
		rows = append(rows, 2, 0, 0, 0, 6, 0, byte(i))
	}
	for _, nr := range []int{4, 5, 6} {
		off := offsets[nr]
		rows = append(rows, 1, byte(off>>24), byte(off>>16), byte(off>>8), byte(off), 0, 0)
	}
	rows = append(rows, 1, byte(xref>>24), byte(xref>>16), byte(xref>>8), byte(xref), 0, 0)
	write(7, streamObject("/Type /XRef /Size 8 /W [1 4 2] /Root 1 0 R /Filter /FlateDecode", deflate(t, rows)))
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xref)
	return b.Bytes()
}

// objectText returns the source text of object nr, from its header to
// endobj.
func objectText(t testing.TB, pdf []byte, nr int) []byte {
	t.Helper()
	i := bytes.Index(pdf, []byte(fmt.Sprintf("\n%d 0 obj\n", nr)))
	if i < 0 {
		t.Fatalf("object %d not found", nr)
	}
	rest := pdf[i+1:]
	j := bytes.Index(rest, []byte("endobj"))
	if j < 0 {
		t.Fatalf("object %d has no endobj", nr)
	}
	return rest[:j+len("endobj")]
}

// imageStreams parses pdf and returns its image streams keyed by object
// number.
func imageStreams(t testing.TB, pdf []byte) map[int]types.StreamDict {
	t.Helper()
	pctx, err := api.ReadContext(bytes.NewReader(pdf), pdfConfig())
	if err != nil {
		t.Fatalf("ReadContext: %v", err)
	}
	out := make(map[int]types.StreamDict)
	for nr, entry := range pctx.XRefTable.Table {
		if entry == nil || entry.Free {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if name, _ := nameOf(sd.Dict["Subtype"]); name == "Image" {
			out[nr] = sd
		}
	}
	return out
}

func onlyImage(t testing.TB, pdf []byte) types.StreamDict {
	t.Helper()
	imgs := imageStreams(t, pdf)
	if len(imgs) != 1 {
		t.Fatalf("found %d image streams, want 1", len(imgs))
	}
	for _, sd := range imgs {
		return sd
	}
	panic("unreachable")
}

func assertJPEGImage(t *testing.T, sd types.StreamDict, w, h int) {
	t.Helper()
	if f, _ := nameOf(sd.Dict["Filter"]); f != "DCTDecode" {
		t.Fatalf("Filter = %v, want DCTDecode", sd.Dict["Filter"])
	}
	if cs, _ := nameOf(sd.Dict["ColorSpace"]); cs != "DeviceRGB" {
		t.Fatalf("ColorSpace = %v, want DeviceRGB", sd.Dict["ColorSpace"])
	}
	if bpc, _ := intOf(sd.Dict["BitsPerComponent"]); bpc != 8 {
		t.Fatalf("BitsPerComponent = %v, want 8", sd.Dict["BitsPerComponent"])
	}
	if _, ok := sd.Dict["DecodeParms"]; ok {
		t.Fatal("DecodeParms should be removed")
	}
	if !isJPEG(sd.Raw) {
		t.Fatal("stream content is not a JPEG")
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(sd.Raw))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != w || cfg.Height != h {
		t.Fatalf("JPEG is %dx%d, want %dx%d", cfg.Width, cfg.Height, w, h)
	}
}

// ── Rewriter ────────────────────────────────────────────────────────────────

func TestRewritePDFImagesRGB(t *testing.T) {
	pdf := buildImagePDF(t, imageSpec{w: 32, h: 24, colorSpace: "DeviceRGB", bpc: 8})
	out, report := RewritePDFImages(pdf, PDFOptions{Quality: 70, Preset: PresetBalanced})

	if diff := cmp.Diff(PDFReport{Images: 1, Rewritten: []int{4}}, report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	assertJPEGImage(t, onlyImage(t, out), 32, 24)
}

func TestRewritePDFImagesGray(t *testing.T) {
	pdf := buildImagePDF(t, imageSpec{w: 16, h: 16, colorSpace: "DeviceGray", bpc: 8})
	out, report := RewritePDFImages(pdf, PDFOptions{Quality: 80})
	if len(report.Rewritten) != 1 {
		t.Fatalf("report = %+v", report)
	}
	assertJPEGImage(t, onlyImage(t, out), 16, 16)
}

func TestRewritePDFImagesPredictor(t *testing.T) {
	pdf := buildImagePDF(t, imageSpec{w: 20, h: 10, colorSpace: "DeviceRGB", bpc: 8, predictor: true})
	out, report := RewritePDFImages(pdf, PDFOptions{Quality: 80})
	if len(report.Rewritten) != 1 {
		t.Fatalf("report = %+v", report)
	}
	assertJPEGImage(t, onlyImage(t, out), 20, 10)
}

func TestRewritePDFImagesPreset(t *testing.T) {
	pdf := buildImagePDF(t, imageSpec{w: 32, h: 32, colorSpace: "DeviceRGB", bpc: 8})
	fast, _ := RewritePDFImages(pdf, PDFOptions{Quality: 70, Preset: PresetFast})
	best, _ := RewritePDFImages(pdf, PDFOptions{Quality: 70, Preset: PresetMax})

	fastJPEG, bestJPEG := onlyImage(t, fast).Raw, onlyImage(t, best).Raw
	if bytes.Equal(fastJPEG, bestJPEG) {
		t.Fatal("preset did not reach the image encoder")
	}
	if !hasMarker(bestJPEG, 0xC2) {
		t.Error("max preset image is not progressive")
	}
}

func TestRewritePDFImagesSkips(t *testing.T) {
	tests := []struct {
		name string
		img  imageSpec
		want SkipReason
	}{
		{"one bit", imageSpec{w: 16, h: 16, colorSpace: "DeviceGray", bpc: 1}, SkipBitDepth},
		{"cmyk", imageSpec{w: 8, h: 8, colorSpace: "DeviceCMYK", bpc: 8}, SkipColorSpace},
		{"short data", imageSpec{w: 8, h: 8, colorSpace: "DeviceRGB", bpc: 8, declaredW: 9}, SkipLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdf := buildImagePDF(t, tt.img)
			out, report := RewritePDFImages(pdf, PDFOptions{Quality: 80})
			if !bytes.Equal(out, pdf) {
				t.Fatal("ineligible image must leave the PDF byte-identical")
			}
			want := PDFReport{Images: 1, Skipped: []ImageSkip{{Object: 4, Reason: tt.want}}}
			if diff := cmp.Diff(want, report); diff != "" {
				t.Fatalf("report mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRewritePDFImagesIdempotent(t *testing.T) {
	pdf := buildImagePDF(t, imageSpec{w: 32, h: 32, colorSpace: "DeviceRGB", bpc: 8})
	once := CompressPDFImages(pdf, 60, PresetBalanced)
	twice, report := RewritePDFImages(once, PDFOptions{Quality: 60})
	if !bytes.Equal(once, twice) {
		t.Fatal("second pass changed the document")
	}
	if len(report.Rewritten) != 0 || len(report.Skipped) != 1 || report.Skipped[0].Reason != SkipFilter {
		t.Fatalf("second pass report = %+v", report)
	}
}

func TestRewritePDFImagesKeepsUntouchedObjects(t *testing.T) {
	const id = "[<0123456789ABCDEF0123456789ABCDEF> <0123456789ABCDEF0123456789ABCDEF>]"
	info := []byte("<< /Title (Report) /Producer (Acrobat) /CreationDate (D:19990101000000Z) >>")
	objs := append(imagePDFObjects(t, imageSpec{w: 24, h: 24, colorSpace: "DeviceRGB", bpc: 8}), info)
	pdf := buildPDFTrailer("/Info 6 0 R /ID "+id+" ", objs...)

	out, report := RewritePDFImages(pdf, PDFOptions{Quality: 70})
	if diff := cmp.Diff(PDFReport{Images: 1, Rewritten: []int{4}}, report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	assertJPEGImage(t, onlyImage(t, out), 24, 24)

	header := pdf[:bytes.Index(pdf, []byte("1 0 obj"))]
	if !bytes.HasPrefix(out, header) {
		t.Fatalf("header changed: %q", out[:len(header)])
	}
	for _, nr := range []int{1, 2, 3, 5, 6} {
		if got, want := objectText(t, out, nr), objectText(t, pdf, nr); !bytes.Equal(got, want) {
			t.Errorf("object %d changed:\n got %q\nwant %q", nr, got, want)
		}
	}
	if bytes.Contains(out, []byte("pdfcpu")) {
		t.Error("output carries a pdfcpu producer string")
	}

	before, err := api.ReadContext(bytes.NewReader(pdf), pdfConfig())
	if err != nil {
		t.Fatal(err)
	}
	after, err := api.ReadContext(bytes.NewReader(out), pdfConfig())
	if err != nil {
		t.Fatal(err)
	}
	trailer := func(c *model.Context) []string {
		return []string{c.Root.PDFString(), c.Info.PDFString(), c.ID.PDFString()}
	}
	if diff := cmp.Diff(trailer(before), trailer(after)); diff != "" {
		t.Fatalf("trailer mismatch (-before +after):\n%s", diff)
	}
}

func TestRewritePDFImagesNoInfoAdded(t *testing.T) {
	pdf := buildImagePDF(t, imageSpec{w: 16, h: 16, colorSpace: "DeviceGray", bpc: 8})
	out, _ := RewritePDFImages(pdf, PDFOptions{Quality: 70})
	after, err := api.ReadContext(bytes.NewReader(out), pdfConfig())
	if err != nil {
		t.Fatal(err)
	}
	if after.Info != nil || len(after.ID) != 0 {
		t.Fatalf("rewrite added Info %v or ID %v", after.Info, after.ID)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-1.4\n")) {
		t.Fatalf("header changed: %q", out[:9])
	}
}

func TestRewritePDFImagesObjectStreams(t *testing.T) {
	pdf := buildObjStmPDF(t, imageSpec{w: 20, h: 12, colorSpace: "DeviceRGB", bpc: 8})
	out, report := RewritePDFImages(pdf, PDFOptions{Quality: 70})
	if report.Err != nil || len(report.Rewritten) != 1 || report.Rewritten[0] != 4 {
		t.Fatalf("report = %+v", report)
	}
	assertJPEGImage(t, onlyImage(t, out), 20, 12)

	for _, nr := range []int{5, 6} {
		if !bytes.Equal(objectText(t, out, nr), objectText(t, pdf, nr)) {
			t.Errorf("object %d changed", nr)
		}
	}
	after, err := api.ReadContext(bytes.NewReader(out), pdfConfig())
	if err != nil {
		t.Fatal(err)
	}
	page, ok := after.XRefTable.Table[3].Object.(types.Dict)
	if !ok {
		t.Fatalf("object 3 is %T, want a dictionary", after.XRefTable.Table[3].Object)
	}
	if typ, _ := nameOf(page["Type"]); typ != "Page" {
		t.Fatalf("object 3 /Type = %v", page["Type"])
	}
}

func TestSpliceObjectsLayoutMismatch(t *testing.T) {
	pdf := buildImagePDF(t, imageSpec{w: 8, h: 8, colorSpace: "DeviceRGB", bpc: 8})
	off, gen := int64(3), 0
	xt := &model.XRefTable{Table: map[int]*model.XRefTableEntry{
		0: model.NewFreeHeadXRefTableEntry(),
		1: {Offset: &off, Generation: &gen, Object: types.Dict{}},
	}}
	if _, err := spliceObjects(pdf, xt, nil); !errors.Is(err, errObjectLayout) {
		t.Fatalf("want errObjectLayout, got %v", err)
	}
}

func TestRewritePDFImagesGarbage(t *testing.T) {
	in := []byte("%PDF-1.7\ngarbage")
	out, report := RewritePDFImages(in, PDFOptions{Quality: 50})
	if !bytes.Equal(out, in) {
		t.Fatal("garbage must come back unchanged")
	}
	if report.Err == nil {
		t.Fatal("expected a parse error in the report")
	}
	if got := CompressPDFImages(nil, 50, PresetFast); len(got) != 0 {
		t.Fatalf("empty input produced %d bytes", len(got))
	}
}

func TestCompressPDFToTarget(t *testing.T) {
	pdf := buildImagePDF(t, imageSpec{w: 64, h: 64, colorSpace: "DeviceRGB", bpc: 8})
	full, _ := RewritePDFImages(pdf, PDFOptions{Quality: 100})

	target := len(full) - 1
	out, report, err := compressPDFToTarget(ctx(), pdf, PDFOptions{Quality: 100}, target, DefaultTuning())
	if err != nil {
		t.Fatal(err)
	}
	if len(out.data) >= len(full) {
		t.Fatalf("search output %d bytes, not smaller than the q=100 pass (%d)", len(out.data), len(full))
	}
	if out.quality >= 100 || len(report.Rewritten) != 1 {
		t.Fatalf("quality %d, report %+v", out.quality, report)
	}
}

func TestDecodeParms(t *testing.T) {
	d := types.Dict{
		"DecodeParms": types.Array{types.Dict{
			"Predictor": types.Integer(12),
			"Colors":    types.Integer(3),
			"Columns":   types.Integer(40),
		}},
	}
	want := predictorParams{Predictor: 12, Colors: 3, BPC: 8, Columns: 40}
	if diff := cmp.Diff(want, decodeParms(d)); diff != "" {
		t.Fatalf("decodeParms mismatch (-want +got):\n%s", diff)
	}
	if got := decodeParms(types.Dict{}); got != defaultPredictorParams() {
		t.Fatalf("missing DecodeParms = %+v", got)
	}
}

func TestFilterNames(t *testing.T) {
	tests := []struct {
		f    types.Object
		want []string
		ok   bool
	}{
		{nil, nil, true},
		{types.Name("FlateDecode"), []string{"FlateDecode"}, true},
		{types.Array{types.Name("ASCII85Decode"), types.Name("FlateDecode")}, []string{"ASCII85Decode", "FlateDecode"}, true},
		{types.Array{types.Integer(1)}, nil, false},
		{types.Integer(3), nil, false},
	}
	for _, tt := range tests {
		d := types.Dict{}
		if tt.f != nil {
			d["Filter"] = tt.f
		}
		got, ok := filterNames(d)
		if ok != tt.ok || !cmp.Equal(got, tt.want) {
			t.Errorf("filterNames(%v) = %v, %v; want %v, %v", tt.f, got, ok, tt.want, tt.ok)
		}
	}
}
