package chunkers

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// EPUB extracts one chunk-source per spine entry (chapter), in reading
// order, and windows any chapter exceeding the token ceiling.
type EPUB struct{}

var _ driven.Chunker = EPUB{}

func (EPUB) Chunk(sourceID string, raw []byte, hint map[string]any, cfg driven.ChunkerConfig) ([]domain.ChunkDraft, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "open EPUB archive", "the file must be a valid zip/EPUB container", err)
	}

	opfPath, opfBytes, err := findOPF(zr)
	if err != nil {
		return nil, err
	}

	manifest, spine, err := parseOPF(opfBytes)
	if err != nil {
		return nil, err
	}

	opfDir := path.Dir(opfPath)

	count := cfg.CountTokens
	if count == nil {
		count = approxTokens
	}
	ceiling := cfg.ChunkSizeTokens
	if ceiling <= 0 {
		ceiling = 800
	}

	var drafts []domain.ChunkDraft
	ordinal := 0

	for chapterIdx, idref := range spine {
		href, ok := manifest[idref]
		if !ok {
			continue
		}
		fullPath := path.Join(opfDir, href)
		text, err := readXHTMLText(zr, fullPath)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		meta := map[string]any{"chapter": chapterIdx, "spine_id": idref}

		if count(text) <= ceiling {
			drafts = append(drafts, domain.ChunkDraft{Ordinal: ordinal, Text: strings.TrimSpace(text), Metadata: meta})
			ordinal++
			continue
		}
		windowed, err := PlainTextChunks(text, cfg, ordinal)
		if err != nil {
			return nil, err
		}
		for _, d := range windowed {
			d.Metadata = mergeMeta(d.Metadata, meta)
			drafts = append(drafts, d)
			ordinal++
		}
	}

	return drafts, nil
}

func findOPF(zr *zip.Reader) (string, []byte, error) {
	f, err := zr.Open("META-INF/container.xml")
	if err != nil {
		return "", nil, domain.NewError(domain.KindConfiguration, "read EPUB container.xml", "the file is missing the EPUB container manifest", err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", nil, domain.NewError(domain.KindConfiguration, "read EPUB container.xml", "", err)
	}

	var container struct {
		Rootfiles struct {
			Rootfile []struct {
				FullPath string `xml:"full-path,attr"`
			} `xml:"rootfile"`
		} `xml:"rootfiles"`
	}
	if err := xml.Unmarshal(b, &container); err != nil || len(container.Rootfiles.Rootfile) == 0 {
		return "", nil, domain.NewError(domain.KindConfiguration, "parse EPUB container.xml", "", err)
	}
	opfPath := container.Rootfiles.Rootfile[0].FullPath

	opfFile, err := zr.Open(opfPath)
	if err != nil {
		return "", nil, domain.NewError(domain.KindConfiguration, "open EPUB package document", "", err)
	}
	defer opfFile.Close()
	opfBytes, err := io.ReadAll(opfFile)
	if err != nil {
		return "", nil, domain.NewError(domain.KindConfiguration, "read EPUB package document", "", err)
	}
	return opfPath, opfBytes, nil
}

func parseOPF(opfBytes []byte) (manifest map[string]string, spine []string, err error) {
	var pkg struct {
		Manifest struct {
			Items []struct {
				ID   string `xml:"id,attr"`
				Href string `xml:"href,attr"`
			} `xml:"item"`
		} `xml:"manifest"`
		Spine struct {
			ItemRefs []struct {
				IDRef string `xml:"idref,attr"`
			} `xml:"itemref"`
		} `xml:"spine"`
	}
	if err := xml.Unmarshal(opfBytes, &pkg); err != nil {
		return nil, nil, domain.NewError(domain.KindConfiguration, "parse EPUB package document", "", err)
	}

	manifest = map[string]string{}
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item.Href
	}
	for _, ref := range pkg.Spine.ItemRefs {
		spine = append(spine, ref.IDRef)
	}
	return manifest, spine, nil
}

func readXHTMLText(zr *zip.Reader, fullPath string) (string, error) {
	f, err := zr.Open(fullPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String(), nil
}
