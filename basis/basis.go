// Package basis turns element symbols, coordinates and Gaussian basis set
// tables into the atom descriptions the integral wrappers consume. Basis
// tables are plain text, one element block each: a header line starting
// with "element <symbol>", a shell count, then per shell a "l nprim" line
// followed by nprim "exponent coefficient" lines. A built-in STO-3G table
// covers the light elements.
package basis

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/sofroniewn/dqc/cint"
	"github.com/sofroniewn/dqc/intor"
)

var ErrUnknownElement = errors.New("basis: unknown element")
var ErrNoBasis = errors.New("basis: element not in basis set")

// symbols is indexed by atomic number; index 0 is a placeholder.
var symbols = []string{
	"X", "H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar",
}

// AtomZ returns the atomic number of an element symbol.
func AtomZ(symbol string) (int, error) {
	z := slices.Index(symbols, symbol)
	if z <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownElement, symbol)
	}
	return z, nil
}

// Symbol returns the element symbol for an atomic number.
func Symbol(z int) (string, error) {
	if z <= 0 || z >= len(symbols) {
		return "", fmt.Errorf("%w: Z=%d", ErrUnknownElement, z)
	}
	return symbols[z], nil
}

// Set maps element symbols to their contracted shells.
type Set map[string][]intor.CGTO

// Parse reads a basis set table.
func Parse(r io.Reader) (Set, error) {
	set := Set{}
	sc := bufio.NewScanner(r)
	var lines []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("basis: read: %w", err)
	}

	i := 0
	for i < len(lines) {
		words := strings.Fields(lines[i])
		if len(words) != 2 || words[0] != "element" {
			return nil, fmt.Errorf("basis: line %q: want \"element <symbol>\"", lines[i])
		}
		symbol := words[1]
		if _, err := AtomZ(symbol); err != nil {
			return nil, err
		}
		i++
		nshells, err := atLine(lines, i, 1)
		if err != nil {
			return nil, err
		}
		i++
		var shells []intor.CGTO
		for k := 0; k < nshells[0]; k++ {
			hdr, err := atLine(lines, i, 2)
			if err != nil {
				return nil, err
			}
			i++
			sh := intor.CGTO{AngMom: hdr[0]}
			for p := 0; p < hdr[1]; p++ {
				if i >= len(lines) {
					return nil, fmt.Errorf("basis: truncated shell for %s", symbol)
				}
				fs := strings.Fields(lines[i])
				if len(fs) != 2 {
					return nil, fmt.Errorf("basis: line %q: want \"exponent coefficient\"", lines[i])
				}
				alpha, err1 := strconv.ParseFloat(fs[0], 64)
				coeff, err2 := strconv.ParseFloat(fs[1], 64)
				if err1 != nil || err2 != nil {
					return nil, fmt.Errorf("basis: line %q: bad number", lines[i])
				}
				sh.Alphas = append(sh.Alphas, alpha)
				sh.Coeffs = append(sh.Coeffs, coeff)
				i++
			}
			shells = append(shells, sh)
		}
		set[symbol] = shells
	}
	return set, nil
}

func atLine(lines []string, i, want int) ([]int, error) {
	if i >= len(lines) {
		return nil, errors.New("basis: unexpected end of table")
	}
	fs := strings.Fields(lines[i])
	if len(fs) != want {
		return nil, fmt.Errorf("basis: line %q: want %d integers", lines[i], want)
	}
	out := make([]int, want)
	for k, f := range fs {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("basis: line %q: bad integer %q", lines[i], f)
		}
		out[k] = n
	}
	return out, nil
}

// Atoms builds the atom list for the wrappers. symbols and coords must
// have equal length; coords are in Bohr, three per atom. Shell slices are
// cloned so a Set can be reused across systems.
func (s Set) Atoms(syms []string, coords [][]float64) ([]intor.AtomBasis, error) {
	if len(syms) != len(coords) {
		return nil, fmt.Errorf("basis: %d symbols but %d coordinates", len(syms), len(coords))
	}
	atoms := make([]intor.AtomBasis, len(syms))
	for i, sym := range syms {
		z, err := AtomZ(sym)
		if err != nil {
			return nil, err
		}
		shells, ok := s[sym]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoBasis, sym)
		}
		if len(coords[i]) != cint.NDim {
			return nil, fmt.Errorf("basis: atom %d: %d coordinates", i, len(coords[i]))
		}
		cp := make([]intor.CGTO, len(shells))
		for j, sh := range shells {
			cp[j] = intor.CGTO{
				AngMom: sh.AngMom,
				Alphas: slices.Clone(sh.Alphas),
				Coeffs: slices.Clone(sh.Coeffs),
			}
		}
		atoms[i] = intor.AtomBasis{
			AtomZ:  float64(z),
			Pos:    slices.Clone(coords[i]),
			Shells: cp,
		}
	}
	return atoms, nil
}

// STO3G is the built-in minimal basis table for H through F.
const STO3G = `
element H
1
0 3
3.42525091 0.15432897
0.62391373 0.53532814
0.16885540 0.44463454

element He
1
0 3
6.36242139 0.15432897
1.15892300 0.53532814
0.31364979 0.44463454

element Li
2
0 3
16.11957475 0.15432897
2.93620066 0.53532814
0.79465050 0.44463454
0 3
0.63628970 -0.09996723
0.14786010 0.39951283
0.04808870 0.70011547

element C
3
0 3
71.61683735 0.15432897
13.04509632 0.53532814
3.53051216 0.44463454
0 3
2.94124940 -0.09996723
0.68348310 0.39951283
0.22228990 0.70011547
1 3
2.94124940 0.15591627
0.68348310 0.60768372
0.22228990 0.39195739

element N
3
0 3
99.10616896 0.15432897
18.05231239 0.53532814
4.88566024 0.44463454
0 3
3.78045590 -0.09996723
0.87849660 0.39951283
0.28571440 0.70011547
1 3
3.78045590 0.15591627
0.87849660 0.60768372
0.28571440 0.39195739

element O
3
0 3
130.70932140 0.15432897
23.80886605 0.53532814
6.44360831 0.44463454
0 3
5.03315130 -0.09996723
1.16959610 0.39951283
0.38038900 0.70011547
1 3
5.03315130 0.15591627
1.16959610 0.60768372
0.38038900 0.39195739

element F
3
0 3
166.67913400 0.15432897
30.36081233 0.53532814
8.21682067 0.44463454
0 3
6.46480320 -0.09996723
1.50228120 0.39951283
0.48858850 0.70011547
1 3
6.46480320 0.15591627
1.50228120 0.60768372
0.48858850 0.39195739
`

// STO3GSet parses the built-in table; the table is well-formed, so the
// parse cannot fail.
func STO3GSet() Set {
	set, err := Parse(strings.NewReader(STO3G))
	if err != nil {
		panic(err)
	}
	return set
}
