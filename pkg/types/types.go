package types

// NoBoxesFound is reported in place of an output path when the model response
// carried no box annotations.
const NoBoxesFound = "No bounding boxes found"

// Box represents a normalized bounding box with coordinates in [0,1] range.
// Ordering (XMin <= XMax, YMin <= YMax) is not guaranteed; values are whatever
// the model emitted divided by 1000.
type Box struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// PixelBox is a Box projected onto a concrete image, in absolute pixels.
type PixelBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Canon returns the box with its corners ordered so that X1 <= X2 and Y1 <= Y2.
func (p PixelBox) Canon() PixelBox {
	if p.X1 > p.X2 {
		p.X1, p.X2 = p.X2, p.X1
	}
	if p.Y1 > p.Y2 {
		p.Y1, p.Y2 = p.Y2, p.Y1
	}
	return p
}

// RecognizeRequest is a single question about a single uploaded image
type RecognizeRequest struct {
	Question  string
	Filename  string
	ImageData []byte
}

// RecognizeResult is what the recognize endpoint returns
type RecognizeResult struct {
	Response           string `json:"response"`
	AnnotatedImagePath string `json:"annotated_image_path"`
}

// Annotation describes what was drawn for a request. It is not part of the
// HTTP response but is useful to callers of the agent package and the CLI.
type Annotation struct {
	Boxes       []Box      `json:"boxes"`
	PixelBoxes  []PixelBox `json:"pixel_boxes"`
	OutputPath  string     `json:"output_path,omitempty"`
	ImageWidth  int        `json:"image_width"`
	ImageHeight int        `json:"image_height"`
}
