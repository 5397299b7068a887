package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/loader"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
)

const lspName = "obfux-lsp"

// LspServer provides editor features for Ox sources: parse and structure
// diagnostics, completion, go to function definition, and hover that
// explains identifiers through a rename map.
type LspServer struct {
	mu      sync.Mutex
	docs    map[string]string // URI → full document content
	renames *transform.RenameMap

	builtins map[string]bool

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server. renames may be nil; when set, hover
// shows each identifier's original or generated name.
func NewLSP(renames *transform.RenameMap) *LspServer {
	s := &LspServer{
		docs:     make(map[string]string),
		renames:  renames,
		builtins: make(map[string]bool),
		version:  "0.1.0",
	}
	for _, name := range vm.CoreBuiltins {
		s.builtins[name] = true
	}
	for _, name := range loader.BootstrapBuiltins {
		s.builtins[name] = true
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "obfux LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	loc := definition(uri, text, word)
	if loc == nil {
		return nil, nil
	}
	return loc, nil
}

// --- Source-backed logic ---

func (s *LspServer) complete(text, prefix string) []protocol.CompletionItem {
	candidates := make(map[string]protocol.CompletionItemKind)
	for name := range s.builtins {
		candidates[name] = protocol.CompletionItemKindFunction
	}
	if prog, err := compiler.Parse(text); err == nil {
		for name := range compiler.Identifiers(prog) {
			if _, ok := candidates[name]; !ok {
				candidates[name] = protocol.CompletionItemKindVariable
			}
		}
		for _, fn := range prog.Funcs() {
			candidates[fn.Name] = protocol.CompletionItemKindFunction
		}
	}

	var names []string
	lowerPrefix := strings.ToLower(prefix)
	for name := range candidates {
		if name != prefix && strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	// Limit results
	const maxItems = 100
	if len(names) > maxItems {
		names = names[:maxItems]
	}

	items := make([]protocol.CompletionItem, 0, len(names))
	for _, name := range names {
		kind := candidates[name]
		detail := "variable"
		if s.builtins[name] {
			detail = "builtin"
		} else if kind == protocol.CompletionItemKindFunction {
			detail = "function"
		}
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}
	return items
}

func (s *LspServer) hover(text, word string) *protocol.Hover {
	var parts []string
	if prog, err := compiler.Parse(text); err == nil {
		for _, fn := range prog.Funcs() {
			if fn.Name == word {
				parts = append(parts, fmt.Sprintf("```\nfunc %s(%s)\n```", fn.Name, strings.Join(fn.Params, ", ")))
			}
		}
	}
	if s.builtins[word] {
		parts = append(parts, fmt.Sprintf("**%s** builtin", word))
	}
	if orig, ok := s.renames.Original(word); ok {
		parts = append(parts, fmt.Sprintf("**%s** was `%s` before renaming", word, orig))
	}
	if gen, ok := s.renames.Lookup(word); ok {
		parts = append(parts, fmt.Sprintf("**%s** is renamed to `%s`", word, gen))
	}
	if len(parts) == 0 {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: strings.Join(parts, "\n\n"),
		},
	}
}

// definition finds the declaration of function word in text.
func definition(uri protocol.DocumentUri, text, word string) *protocol.Location {
	prog, err := compiler.Parse(text)
	if err != nil {
		return nil
	}
	for _, fn := range prog.Funcs() {
		if fn.Name == word {
			return &protocol.Location{URI: uri, Range: toRange(fn.SpanVal)}
		}
	}
	return nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnose(text),
	})
}

// diagnose reports syntax errors at their positions, or structural
// problems of a program that parses.
func diagnose(text string) []protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	source := lspName
	diagnostics := []protocol.Diagnostic{}

	prog, err := compiler.Parse(text)
	if pe, ok := err.(*compiler.ParseError); ok {
		for _, se := range pe.Errors {
			pos := toPosition(se.Pos)
			diagnostics = append(diagnostics, protocol.Diagnostic{
				Range:    protocol.Range{Start: pos, End: pos},
				Severity: &severity,
				Source:   &source,
				Message:  se.Msg,
			})
		}
		return diagnostics
	}
	if err != nil {
		return append(diagnostics, protocol.Diagnostic{Severity: &severity, Source: &source, Message: err.Error()})
	}
	if ve, ok := compiler.Validate(prog).(*compiler.ValidationError); ok {
		for _, problem := range ve.Problems {
			diagnostics = append(diagnostics, protocol.Diagnostic{
				Severity: &severity,
				Source:   &source,
				Message:  problem,
			})
		}
	}
	return diagnostics
}

func toPosition(p compiler.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

func toRange(sp compiler.Span) protocol.Range {
	return protocol.Range{Start: toPosition(sp.Start), End: toPosition(sp.End)}
}

// --- Text extraction helpers ---

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
