// Package format implements the result output mini-language: a
// comma-joined sequence of tokens describing which fields of an
// engine.Result to print and in what order, driven by the
// `-f/--format` flag.
package format

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Token identifies one field of a result line.
type Token string

// Recognized tokens, each exactly three characters including the leading '%'.
const (
	TokenBandwidthEstimated   Token = "%be"
	TokenAssessmentNumeric    Token = "%am"
	TokenAssessmentLiteral    Token = "%AM"
	TokenBandwidthLo          Token = "%bl"
	TokenBandwidthHi          Token = "%bu"
	TokenBinWidth             Token = "%bw"
	TokenPacketDispersionMin  Token = "%pd"
	TokenUDPLatency           Token = "%ul"
	TokenPrelimMean           Token = "%pm"
	TokenPrelimStd            Token = "%ps"
	TokenLatencyTCP           Token = "%lt"
)

// Default is the format string used when no `-f` flag is given.
const Default = "%be%am%AM%bl%bu%bw%pd%ul"

// ErrUndefinedToken is returned when a format string contains a token not
// in the recognized set.
var ErrUndefinedToken = errors.New("format: undefined token")

var validTokens = map[Token]bool{
	TokenBandwidthEstimated:  true,
	TokenAssessmentNumeric:   true,
	TokenAssessmentLiteral:   true,
	TokenBandwidthLo:         true,
	TokenBandwidthHi:         true,
	TokenBinWidth:            true,
	TokenPacketDispersionMin: true,
	TokenUDPLatency:          true,
	TokenPrelimMean:          true,
	TokenPrelimStd:           true,
	TokenLatencyTCP:          true,
}

// Validate checks that format consists only of recognized 3-character
// tokens with no separator or trailing characters between them.
func Validate(spec string) error {
	_, err := Parse(spec)
	return err
}

// Parse splits a format string into its ordered token sequence, rejecting
// anything that is not an exact run of known 3-character tokens.
func Parse(spec string) ([]Token, error) {
	if len(spec)%3 != 0 {
		return nil, fmt.Errorf("%q: %w", spec, ErrUndefinedToken)
	}

	tokens := make([]Token, 0, len(spec)/3)
	for i := 0; i < len(spec); i += 3 {
		tok := Token(spec[i : i+3])
		if !validTokens[tok] {
			return nil, fmt.Errorf("%q: %w", tok, ErrUndefinedToken)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// Values is the set of fields a Write call renders; callers pass an
// engine.Result's fields in rather than importing internal/engine
// directly, keeping this package free of a dependency on the engine's
// assessment-literal rendering.
type Values struct {
	BandwidthEstimated  float64
	AssessmentNumeric   int
	AssessmentLiteral   string
	BandwidthLo         float64
	BandwidthHi         float64
	BinWidth            float64
	PacketDispersionMin float64
	UDPLatency          float64
	PrelimMean          float64
	PrelimStd           float64
	LatencyTCP          float64
}

// Write renders v according to spec, comma-separating tokens and ending
// in a trailing newline.
func Write(spec string, v Values) (string, error) {
	tokens, err := Parse(spec)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(',')
		}
		switch tok {
		case TokenBandwidthEstimated:
			b.WriteString(strconv.FormatFloat(v.BandwidthEstimated, 'f', 4, 64))
		case TokenAssessmentNumeric:
			b.WriteString(strconv.Itoa(v.AssessmentNumeric))
		case TokenAssessmentLiteral:
			b.WriteString(v.AssessmentLiteral)
		case TokenBandwidthLo:
			b.WriteString(strconv.FormatFloat(v.BandwidthLo, 'f', 4, 64))
		case TokenBandwidthHi:
			b.WriteString(strconv.FormatFloat(v.BandwidthHi, 'f', 4, 64))
		case TokenBinWidth:
			b.WriteString(strconv.FormatFloat(v.BinWidth, 'f', 4, 64))
		case TokenPacketDispersionMin:
			b.WriteString(strconv.FormatFloat(v.PacketDispersionMin, 'f', 4, 64))
		case TokenUDPLatency:
			b.WriteString(strconv.FormatFloat(v.UDPLatency, 'f', 4, 64))
		case TokenPrelimMean:
			b.WriteString(strconv.FormatFloat(v.PrelimMean, 'f', 4, 64))
		case TokenPrelimStd:
			b.WriteString(strconv.FormatFloat(v.PrelimStd, 'f', 4, 64))
		case TokenLatencyTCP:
			b.WriteString(strconv.FormatFloat(v.LatencyTCP, 'f', 4, 64))
		}
	}
	b.WriteByte('\n')

	return b.String(), nil
}
