package artifact

import (
	"fmt"
	"strings"
)

// renderPDF produces a minimal, valid multi-page PDF from plain-text lines:
// one Helvetica content stream per page, a fixed page size, a line budget
// per page. The writer emits objects in a fixed order and builds the xref
// table from the actual byte offsets, so the output is byte-stable for the
// same input — a property the checksum chain and the signature block both
// rely on.
//
// None of the example repos carry a PDF library; rather than fabricate a
// dependency, the release copy is rendered with this small writer. The
// release copy is a text document with a signature page, not a typeset
// reproduction of the original.
const (
	pdfPageWidth    = 612 // US Letter, points
	pdfPageHeight   = 792
	pdfMarginLeft   = 54
	pdfMarginTop    = 54
	pdfFontSize     = 10
	pdfLineHeight   = 14
	pdfLinesPerPage = (pdfPageHeight - 2*pdfMarginTop) / pdfLineHeight
)

func renderPDF(lines []string) []byte {
	pages := paginate(lines, pdfLinesPerPage)
	if len(pages) == 0 {
		pages = [][]string{{}}
	}

	// Object numbering: 1 catalog, 2 pages root, 3 font, then for each page
	// two objects (page dict, content stream).
	var body strings.Builder
	offsets := []int{0} // object 0 is the free head
	writeObj := func(content string) {
		offsets = append(offsets, len("%PDF-1.4\n")+body.Len())
		body.WriteString(content)
	}

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	writeObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), len(pages)))
	writeObj("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	for i, page := range pages {
		pageObj := 4 + 2*i
		contentObj := pageObj + 1
		writeObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>\nendobj\n",
			pageObj, pdfPageWidth, pdfPageHeight, contentObj))

		stream := contentStream(page)
		writeObj(fmt.Sprintf("%d 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n",
			contentObj, len(stream), stream))
	}

	var out strings.Builder
	out.WriteString("%PDF-1.4\n")
	out.WriteString(body.String())

	xrefStart := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(offsets))
	out.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets), xrefStart)
	return []byte(out.String())
}

func paginate(lines []string, perPage int) [][]string {
	var pages [][]string
	for len(lines) > 0 {
		n := perPage
		if n > len(lines) {
			n = len(lines)
		}
		pages = append(pages, lines[:n])
		lines = lines[n:]
	}
	return pages
}

// contentStream renders one page of text as a PDF text object.
func contentStream(lines []string) string {
	var b strings.Builder
	b.WriteString("BT\n")
	fmt.Fprintf(&b, "/F1 %d Tf\n", pdfFontSize)
	fmt.Fprintf(&b, "%d %d Td\n", pdfMarginLeft, pdfPageHeight-pdfMarginTop)
	fmt.Fprintf(&b, "%d TL\n", pdfLineHeight)
	for _, line := range lines {
		fmt.Fprintf(&b, "(%s) Tj T*\n", escapePDFString(line))
	}
	b.WriteString("ET\n")
	return b.String()
}

// escapePDFString escapes the three characters that are structural inside a
// PDF literal string, and strips non-ASCII bytes the Type1 Helvetica
// encoding cannot represent.
func escapePDFString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			if r >= 32 && r < 127 {
				b.WriteRune(r)
			} else if r == '\t' {
				b.WriteString("    ")
			}
		}
	}
	return b.String()
}
