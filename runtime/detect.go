package runtime

// DetectModule reports whether src leads with module-only syntax: an
// import declaration or any export declaration. Dynamic import(...) and
// import.meta are legal in classic scripts and do not count. Only the
// first token after the shebang, whitespace, and comments is inspected,
// so a unit whose opening statement is not import/export needs a ".mjs"
// name or explicit forcing to run as a module.
func DetectModule(src []byte) bool {
	s := sniffer{src: src}
	s.skipShebang()
	switch s.next() {
	case tokImport:
		switch s.next() {
		case tokDot, tokLParen:
			return false
		}
		return true
	case tokExport:
		return true
	}
	return false
}

type sniffToken uint8

const (
	tokEOF sniffToken = iota
	tokImport
	tokExport
	tokDot
	tokLParen
	tokOther
)

// sniffer is a minimal lexer for DetectModule. It only distinguishes
// the tokens the classifier cares about.
type sniffer struct {
	src []byte
	pos int
}

func (s *sniffer) skipShebang() {
	if len(s.src) >= 2 && s.src[0] == '#' && s.src[1] == '!' {
		s.pos = 2
		for s.pos < len(s.src) && s.src[s.pos] != '\n' {
			s.pos++
		}
	}
}

func (s *sniffer) skipBlanks() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\v', '\f', '\r', '\n':
			s.pos++
		case '/':
			if s.pos+1 >= len(s.src) {
				return
			}
			switch s.src[s.pos+1] {
			case '/':
				s.pos += 2
				for s.pos < len(s.src) && s.src[s.pos] != '\r' && s.src[s.pos] != '\n' {
					s.pos++
				}
			case '*':
				s.pos += 2
				for s.pos < len(s.src) {
					if s.src[s.pos] == '*' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '/' {
						s.pos += 2
						break
					}
					s.pos++
				}
			default:
				return
			}
		default:
			return
		}
	}
}

func (s *sniffer) next() sniffToken {
	s.skipBlanks()
	if s.pos >= len(s.src) {
		return tokEOF
	}
	c := s.src[s.pos]
	if isIdentStart(c) {
		start := s.pos
		for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
			s.pos++
		}
		switch string(s.src[start:s.pos]) {
		case "import":
			return tokImport
		case "export":
			return tokExport
		}
		return tokOther
	}
	s.pos++
	switch c {
	case '.':
		return tokDot
	case '(':
		return tokLParen
	}
	return tokOther
}

// Non-ASCII bytes are treated as identifier characters: a unicode
// continuation glued to "import" must not read as the keyword.
func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
