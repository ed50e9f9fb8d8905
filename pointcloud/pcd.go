package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// PCDType is the format of the data section of a PCD file.
type PCDType int

// The supported PCD data encodings.
const (
	PCDAscii PCDType = iota
	PCDBinary
	PCDCompressed
)

func (t PCDType) String() string {
	switch t {
	case PCDAscii:
		return "ascii"
	case PCDBinary:
		return "binary"
	case PCDCompressed:
		return "binary_compressed"
	default:
		return fmt.Sprintf("PCDType(%d)", int(t))
	}
}

// NewFromFile reads a cloud from a .pcd or .las file.
func NewFromFile(fn string) (*Cloud, error) {
	switch filepath.Ext(fn) {
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	case ".las":
		return NewFromLASFile(fn)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud to a .pcd (binary) or .las file.
func WriteToFile(cloud *Cloud, fn string) (err error) {
	switch filepath.Ext(fn) {
	case ".pcd":
		//nolint:gosec
		f, err := os.Create(fn)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		return ToPCD(cloud, f, PCDBinary)
	case ".las":
		return WriteToLASFile(cloud, fn)
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}
}

// ToPCD writes the cloud in PCD v0.7. Organized clouds keep their grid and invalid points
// are written as nan.
func ToPCD(cloud *Cloud, out io.Writer, outputType PCDType) error {
	if outputType == PCDCompressed {
		return errors.New("compressed PCD not yet implemented")
	}
	w := bufio.NewWriter(out)

	header := "VERSION .7\n"
	if cloud.HasColor() {
		header += "FIELDS x y z rgb\n" +
			"SIZE 4 4 4 4\n" +
			"TYPE F F F U\n" +
			"COUNT 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\n" +
			"SIZE 4 4 4\n" +
			"TYPE F F F\n" +
			"COUNT 1 1 1\n"
	}
	header += fmt.Sprintf("WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		cloud.Width, cloud.Height, cloud.Size(), outputType)
	if _, err := w.WriteString(header); err != nil {
		return err
	}
	if err := writePCDData(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

func writePCDData(cloud *Cloud, out io.Writer, pcdtype PCDType) error {
	hasColor := cloud.HasColor()
	buf := make([]byte, 16)
	var err error
	cloud.Iterate(func(_ int, p Point) bool {
		x, y, z := float32(p.Position.X), float32(p.Position.Y), float32(p.Position.Z)
		switch pcdtype {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(y))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(z))
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], p.PackedRGB())
				_, err = out.Write(buf)
			} else {
				_, err = out.Write(buf[:12])
			}
		default:
			line := formatPCDFloat(x) + " " + formatPCDFloat(y) + " " + formatPCDFloat(z)
			if hasColor {
				line += " " + strconv.FormatUint(uint64(p.PackedRGB()), 10)
			}
			_, err = io.WriteString(out, line+"\n")
		}
		return err == nil
	})
	return err
}

func formatPCDFloat(f float32) string {
	if math.IsNaN(float64(f)) {
		return "nan"
	}
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

type pcdFieldType int

const (
	pcdPointOnly  pcdFieldType = 3
	pcdPointColor pcdFieldType = 4
)

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	types  []pcdValType
	count  []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

// maxPCDPoints bounds the cloud allocated for a PCD header.
const maxPCDPoints = 1 << 25

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch strings.Join(tokens, " ") {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z rgb", "x y z rgba":
			header.fields = pcdPointColor
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil || header.size[i] != 4 {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.types = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			switch t := pcdValType(token); t {
			case pcdValFloat, pcdValInt, pcdValUInt:
				header.types[i] = t
			default:
				return errors.Errorf("invalid TYPE field %s", token)
			}
		}
	case "COUNT":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		header.count = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.count[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid COUNT field %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.width != 0 && header.width*header.height/header.width != header.height {
			return errors.Errorf("WIDTH %d * HEIGHT %d overflows", header.width, header.height)
		}
		if points > maxPCDPoints {
			return errors.Errorf("POINTS field %d exceeds the maximum of %d", points, maxPCDPoints)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads an ascii or binary PCD file with x y z or x y z rgb fields.
func ReadPCD(inRaw io.Reader) (*Cloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	pt := XYZ
	if header.fields == pcdPointColor {
		pt = XYZRGB
	}
	cloud := NewOrganized(pt, int(header.width), int(header.height))
	cloud.IsDense = true
	// PCD marks unorganized clouds with a single row
	cloud.Organized = header.height > 1

	var err error
	switch header.data {
	case PCDAscii:
		err = readPCDAscii(in, header, cloud)
	case PCDBinary:
		err = readPCDBinary(in, header, cloud)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
	if err != nil {
		return nil, err
	}
	return cloud, nil
}

func readPCDAscii(in *bufio.Reader, header pcdHeader, cloud *Cloud) error {
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != int(header.fields) {
			return errors.Errorf("unexpected number of fields in point %d", i)
		}
		values := make([]float64, len(tokens))
		for j, token := range tokens {
			if header.types[j] == pcdValFloat {
				values[j], err = strconv.ParseFloat(token, 64)
			} else {
				var n uint64
				n, err = strconv.ParseUint(token, 10, 32)
				values[j] = float64(n)
			}
			if err != nil {
				return errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		setPCDPoint(cloud, i, values, header)
	}
	return nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader, cloud *Cloud) error {
	buf := make([]byte, 4*int(header.fields))
	values := make([]float64, int(header.fields))
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return errors.Wrapf(err, "reading point %d", i)
		}
		for j := range values {
			raw := binary.LittleEndian.Uint32(buf[4*j:])
			switch header.types[j] {
			case pcdValFloat:
				values[j] = float64(math.Float32frombits(raw))
			default:
				values[j] = float64(raw)
			}
		}
		setPCDPoint(cloud, i, values, header)
	}
	return nil
}

func setPCDPoint(cloud *Cloud, i int, values []float64, header pcdHeader) {
	p := Point{Position: NewVector(values[0], values[1], values[2])}
	if header.fields == pcdPointColor {
		var rgb uint32
		if header.types[3] == pcdValFloat {
			// PCL stores packed color in the bits of a float.
			rgb = math.Float32bits(float32(values[3]))
		} else {
			rgb = uint32(values[3])
		}
		p.Color = UnpackRGB(rgb)
	}
	cloud.Points[i] = p
	if !p.IsValid() {
		cloud.IsDense = false
	}
}
