// Package diagrams 生成 axodraw2 LaTeX 图表，并通过 pdflatex、axohelp、
// Ghostscript 与 ImageMagick 渲染为 PNG。
package diagrams
