// Package tms20 implements the parts of the OGC Tile Matrix Set standard (v2.0) needed to lay out tile pyramids.
// See https://www.ogc.org/standard/tms/
package tms20

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/perimeterx/marshmallow"
)

// TMID is the identifier of a tile matrix, which is the zoom level for all supported sets
type TMID = int

var (
	//go:embed tilematrixsets/*.json
	embeddedTileMatrixSetsJSONFS embed.FS
	embeddedTileMatrixSetsCache  = make(map[string]*TileMatrixSet)
	embeddedTileMatrixSetsMu     sync.Mutex
)

// LoadJSONTileMatrixSet reads a tile matrix set definition from a JSON file on disk.
func LoadJSONTileMatrixSet(path string) (TileMatrixSet, error) {
	var tms TileMatrixSet
	tmsJSON, err := os.ReadFile(path)
	if err != nil {
		return tms, err
	}
	err = json.Unmarshal(tmsJSON, &tms)
	return tms, err
}

// LoadEmbeddedTileMatrixSet returns one of the built-in tile matrix sets, e.g. WebMercatorQuad.
func LoadEmbeddedTileMatrixSet(id string) (TileMatrixSet, error) {
	embeddedTileMatrixSetsMu.Lock()
	defer embeddedTileMatrixSetsMu.Unlock()

	var tms TileMatrixSet
	cached, ok := embeddedTileMatrixSetsCache[id]
	if ok {
		return *cached, nil
	}
	tmsJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + id + ".json")
	if err != nil {
		return tms, fmt.Errorf("unknown tile matrix set %q: %w", id, err)
	}
	err = json.Unmarshal(tmsJSON, &tms)
	if err != nil {
		return tms, err
	}
	embeddedTileMatrixSetsCache[id] = &tms
	return tms, nil
}

// TileMatrixSet is a definition of a tile matrix set following the Tile Matrix Set standard.
type TileMatrixSet struct {
	// Tile matrix set identifier. Implementation of 'identifier'
	ID string `json:"id,omitempty"`
	// Title of this tile matrix set, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Brief narrative description of this tile matrix set, normally available for display to a human
	Description string `json:"description,omitempty"`
	// Reference to an official source for this TileMatrixSet
	URI         string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes []string `validate:"omitnil,min=1" json:"orderedAxes"`
	// Coordinate Reference System (CRS)
	CRS CRS `validate:"required" json:"-"`
	// Reference to a well-known scale set
	WellKnownScaleSet string `validate:"omitempty,uri" json:"wellKnownScaleSet,omitempty"`
	// Minimum bounding rectangle surrounding the tile matrix set, in the supported CRS
	BoundingBox *TwoDBoundingBox `json:"-"`
	// Describes scale levels and its tile matrices
	TileMatrices map[TMID]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) MarshalJSON() ([]byte, error) {
	tileMatrices := make([]*TileMatrix, 0, len(tms.TileMatrices))
	for i := range tms.TileMatrices {
		tm := tms.TileMatrices[i]
		tileMatrices = append(tileMatrices, &tm)
	}
	sort.Slice(tileMatrices, func(i, j int) bool {
		iID, _ := strconv.ParseInt(tileMatrices[i].ID, 10, 64)
		jID, _ := strconv.ParseInt(tileMatrices[j].ID, 10, 64)
		return iID < jID
	})
	return json.Marshal(struct {
		TileMatrixSet                     // not a pointer, because it would cause recursion to this function
		SpecialCRS          *CRS             `json:"crs"`
		SpecialBoundingBox  *TwoDBoundingBox `json:"boundingBox,omitempty"`
		SpecialTileMatrices []*TileMatrix    `json:"tileMatrices"`
	}{
		TileMatrixSet:       *tms,
		SpecialCRS:          &tms.CRS,
		SpecialBoundingBox:  tms.BoundingBox,
		SpecialTileMatrices: tileMatrices,
	})
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	err := defaults.Set(tms)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	tms.CRS, err = unmarshalCRS(rawCrs)
	if err != nil {
		return err
	}

	if rawBoundingBox, ok := specials["boundingBox"]; ok {
		tms.BoundingBox, err = unmarshalBoundingBox(rawBoundingBox)
		if err != nil {
			return err
		}
	}

	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tms)
}

func unmarshalTileMatrices(rawTileMatrices interface{}) (map[TMID]TileMatrix, error) {
	rawTileMatricesList, ok := rawTileMatrices.([]interface{})
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[TMID]TileMatrix, len(rawTileMatricesList))
	for _, rawTileMatrix := range rawTileMatricesList {
		var tileMatrix TileMatrix
		err := tileMatrix.UnmarshalJSONFromMap(rawTileMatrix)
		if err != nil {
			return nil, err
		}
		tileMatrixID, err := strconv.ParseInt(tileMatrix.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		tileMatrices[TMID(tileMatrixID)] = tileMatrix
	}
	return tileMatrices, nil
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+)::(?P<code>[^:]+)$")
)

// CRS is a coordinate reference system referenced by URI.
// Only the URI form of the standard is supported, either as plain string or as {"uri": ...} object.
type CRS struct {
	description   string
	uri           string
	authorityName string
	authorityCode string
	// Whether it should be marshalled as just a string
	asString bool
}

func unmarshalCRS(rawCrs interface{}) (CRS, error) {
	var crs CRS
	if rawCrsString, ok := rawCrs.(string); ok {
		rawCrs = map[string]interface{}{"uri": rawCrsString}
		crs.asString = true
	}
	err := crs.UnmarshalJSONFromMap(rawCrs)
	return crs, err
}

func (crs *CRS) MarshalJSON() ([]byte, error) {
	if crs.asString {
		return json.Marshal(crs.uri)
	}
	return json.Marshal(struct {
		Description string `json:"description,omitempty"`
		URI         string `json:"uri"`
	}{
		Description: crs.description,
		URI:         crs.uri,
	})
}

func (crs *CRS) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := unmarshalCRS(raw)
	if err != nil {
		return err
	}
	*crs = parsed
	return nil
}

func (crs *CRS) UnmarshalJSONFromMap(data interface{}) error {
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`crs is not a map but a %T`, data)
	}

	rawDescription, ok := dataMap["description"]
	if ok {
		crs.description, ok = rawDescription.(string)
		if !ok {
			return fmt.Errorf(`description property is not a string but a %T`, rawDescription)
		}
	}

	rawURI, ok := dataMap["uri"]
	if !ok {
		return fmt.Errorf(`uri property not found`)
	}
	crs.uri, ok = rawURI.(string)
	if !ok {
		return fmt.Errorf(`uri property is not a string but a %T`, rawURI)
	}

	uriParts := crsURIRegexURL.FindStringSubmatch(crs.uri)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(crs.uri)
	}
	if uriParts == nil {
		return fmt.Errorf(`could not parse crs uri "%v"`, crs.uri)
	}
	crs.authorityName = uriParts[1]
	crs.authorityCode = uriParts[2]
	return nil
}

func (crs *CRS) URI() string {
	return crs.uri
}

func (crs *CRS) AuthorityName() string {
	return crs.authorityName
}

func (crs *CRS) AuthorityCode() string {
	return crs.authorityCode
}

// Minimum bounding rectangle surrounding a 2D resource in the CRS indicated elsewhere
type TwoDBoundingBox struct {
	LowerLeft   TwoDPoint `json:"lowerLeft"`
	UpperRight  TwoDPoint `json:"upperRight"`
	CRS         *CRS      `json:"crs,omitempty"`
	OrderedAxes []string  `validate:"omitempty,len=2" json:"orderedAxes,omitempty"`
}

func unmarshalBoundingBox(raw interface{}) (*TwoDBoundingBox, error) {
	rawMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`"boundingBox" should be an object but is a %T`, raw)
	}
	var bb TwoDBoundingBox
	var err error
	if bb.LowerLeft, err = unmarshalPoint(rawMap["lowerLeft"]); err != nil {
		return nil, fmt.Errorf(`"boundingBox.lowerLeft": %w`, err)
	}
	if bb.UpperRight, err = unmarshalPoint(rawMap["upperRight"]); err != nil {
		return nil, fmt.Errorf(`"boundingBox.upperRight": %w`, err)
	}
	if rawCrs, ok := rawMap["crs"]; ok {
		crs, err := unmarshalCRS(rawCrs)
		if err != nil {
			return nil, err
		}
		bb.CRS = &crs
	}
	if rawAxes, ok := rawMap["orderedAxes"].([]interface{}); ok {
		for _, rawAxis := range rawAxes {
			axis, ok := rawAxis.(string)
			if !ok {
				return nil, fmt.Errorf(`"boundingBox.orderedAxes" should be strings`)
			}
			bb.OrderedAxes = append(bb.OrderedAxes, axis)
		}
	}
	return &bb, nil
}

func unmarshalPoint(raw interface{}) (TwoDPoint, error) {
	var pt TwoDPoint
	coords, ok := raw.([]interface{})
	if !ok || len(coords) != 2 {
		return pt, fmt.Errorf(`should be an array of 2 numbers`)
	}
	for i, coord := range coords {
		f, ok := coord.(float64)
		if !ok {
			return pt, fmt.Errorf(`coordinate %d is not a number but a %T`, i, coord)
		}
		pt[i] = f
	}
	return pt, nil
}

// A 2D Point in the CRS indicated elsewhere
type TwoDPoint [2]float64

func (p TwoDPoint) XY() [2]float64 {
	return p
}

// A tile matrix, usually corresponding to a particular zoom level of a TileMatrixSet.
type TileMatrix struct {
	// Identifier selecting one of the scales defined in the TileMatrixSet and representing the scaleDenominator the tile.
	ID string `validate:"required" json:"id"`
	// Title of this tile matrix, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Scale denominator of this tile matrix
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	// Cell size of this tile matrix
	CellSize float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner of the tile matrix (_topLeft_ or _bottomLeft_) used as the origin for numbering tile rows and columns.
	CornerOfOrigin CornerOfOrigin `validate:"omitempty,oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty"`
	// Precise position in CRS coordinates of the corner of origin for this tile matrix.
	PointOfOrigin TwoDPoint `validate:"required" json:"pointOfOrigin"`
	// Width of each tile of this tile matrix in pixels
	TileWidth uint `validate:"required,min=1" json:"tileWidth"`
	// Height of each tile of this tile matrix in pixels
	TileHeight uint `validate:"required,min=1" json:"tileHeight"`
	// Width of the matrix (number of tiles in width)
	MatrixWidth uint `validate:"required,min=1" json:"matrixWidth"`
	// Height of the matrix (number of tiles in height)
	MatrixHeight uint `validate:"required,min=1" json:"matrixHeight"`
}

func (tm *TileMatrix) UnmarshalJSON(data []byte) error {
	var dataMap map[string]interface{}
	err := json.Unmarshal(data, &dataMap)
	if err != nil {
		return err
	}
	return tm.UnmarshalJSONFromMap(dataMap)
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data interface{}) error {
	err := defaults.Set(tm)
	if err != nil {
		return err
	}

	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`tile matrix is not a map but a %T`, data)
	}

	_, err = marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	if tm.CornerOfOrigin == "" {
		tm.CornerOfOrigin = TopLeft
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tm)
}

// TileSpan returns the width and height in CRS units of a single tile.
func (tm TileMatrix) TileSpan() (float64, float64) {
	return float64(tm.TileWidth) * tm.CellSize, float64(tm.TileHeight) * tm.CellSize
}

// Bounds returns the extent covered by the whole matrix.
func (tm TileMatrix) Bounds() geom.Extent {
	spanX, spanY := tm.TileSpan()
	minX := tm.PointOfOrigin[0]
	maxX := minX + float64(tm.MatrixWidth)*spanX
	if tm.CornerOfOrigin == BottomLeft {
		minY := tm.PointOfOrigin[1]
		return geom.Extent{minX, minY, maxX, minY + float64(tm.MatrixHeight)*spanY}
	}
	maxY := tm.PointOfOrigin[1]
	return geom.Extent{minX, maxY - float64(tm.MatrixHeight)*spanY, maxX, maxY}
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

// EPSG returns the EPSG code of the CRS. CRS84 is reported as 4326.
func (tms *TileMatrixSet) EPSG() (int32, error) {
	if tms.CRS.AuthorityName() == "OGC" && tms.CRS.AuthorityCode() == "CRS84" {
		return 4326, nil
	}
	code, err := strconv.ParseInt(tms.CRS.AuthorityCode(), 10, 32)
	if err != nil {
		return 0, fmt.Errorf(`could not parse uri authority code of %q: %w`, tms.CRS.URI(), err)
	}
	return int32(code), nil
}

func (tms *TileMatrixSet) SRID() uint {
	code, err := tms.EPSG()
	if err != nil {
		panic(err)
	}
	return uint(code)
}

func (tms *TileMatrixSet) Size(zoom uint) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[TMID(zoom)]
	if !ok {
		return nil, false
	}
	return slippy.NewTile(zoom, tm.MatrixWidth, tm.MatrixHeight), true
}

func (tms *TileMatrixSet) FromNative(zoom uint, pt geom.Point) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[TMID(zoom)]
	if !ok {
		return nil, false
	}

	tileSizeX, tileSizeY := tm.TileSpan()
	minX := tm.PointOfOrigin.XY()[0]
	x := int(math.Floor((pt.X() - minX) / tileSizeX))
	if x < 0 {
		return nil, false
	}
	ux := uint(x)
	if ux >= tm.MatrixWidth {
		return nil, false
	}

	var y int
	switch tm.CornerOfOrigin {
	case BottomLeft:
		minY := tm.PointOfOrigin.XY()[1]
		y = int(math.Floor((pt.Y() - minY) / tileSizeY))
	default:
		maxY := tm.PointOfOrigin.XY()[1]
		y = int(math.Floor((maxY - pt.Y()) / tileSizeY))
	}
	if y < 0 {
		return nil, false
	}
	uy := uint(y)
	if uy >= tm.MatrixHeight {
		return nil, false
	}

	return slippy.NewTile(zoom, ux, uy), true
}

// ToNative returns the top left point of the tile.
func (tms *TileMatrixSet) ToNative(tile *slippy.Tile) (geom.Point, bool) {
	topLeftPt := geom.Point{}
	tm, ok := tms.TileMatrices[TMID(tile.Z)]
	if !ok {
		return topLeftPt, false
	}
	if tile.X > tm.MatrixWidth || tile.Y > tm.MatrixHeight {
		// >, not >= because "should be able to take tiles with x and y values 1 higher than the max"
		return topLeftPt, false
	}

	tileSizeX, tileSizeY := tm.TileSpan()
	minX := tm.PointOfOrigin.XY()[0]
	topLeftPt[0] = minX + float64(tile.X)*tileSizeX

	switch tm.CornerOfOrigin {
	case BottomLeft:
		minY := tm.PointOfOrigin.XY()[1]
		topLeftPt[1] = minY + float64(tile.Y+1)*tileSizeY
	default:
		maxY := tm.PointOfOrigin.XY()[1]
		topLeftPt[1] = maxY - float64(tile.Y)*tileSizeY
	}

	return topLeftPt, true
}
