package biolinks

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	xerrors "ExoLab-Agents/internal/errors"
)

// BaseURL 是图库链接的前缀。
const BaseURL = "https://human.biodigital.com"

// Link 是图库中的一张卡片。
type Link struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

// ParseFile 读取 HTML 文件并解析其中的图库卡片。
func ParseFile(path string) ([]Link, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "HTML 文件不存在")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 HTML 文件失败")
	}
	defer func() {
		_ = file.Close()
	}()
	return Parse(file)
}

// Parse 查找每个 li.gallery-cards__item 中第一个 a[role=button]，
// 名称取 aria-label（缺省 "No Name"），链接取 href（缺省 "No Link"）并加上 BaseURL。
func Parse(r io.Reader) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 HTML 失败")
	}

	links := []Link{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" && hasClass(n, "gallery-cards__item") {
			if a := findButtonLink(n); a != nil {
				links = append(links, Link{
					Name: attrOr(a, "aria-label", "No Name"),
					Href: BaseURL + attrOr(a, "href", "No Link"),
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func findButtonLink(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "a" {
			if role, ok := attr(c, "role"); ok && role == "button" {
				return c
			}
		}
		if found := findButtonLink(c); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	value, ok := attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(value) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attrOr(n *html.Node, key, fallback string) string {
	if v, ok := attr(n, key); ok {
		return v
	}
	return fallback
}
