package evaluate

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// 저장되는 그래프 파일 이름
const (
	HistoryPlot         = "training_history.png"
	ConfusionMatrixPlot = "confusion_matrix.png"
	ROCPlot             = "roc_curve.png"
)

// Curves epoch별 학습 곡선
type Curves struct {
	Accuracy, ValAccuracy []float64
	Loss, ValLoss         []float64
}

func series(values []float64) plotter.XYs {
	xys := make(plotter.XYs, len(values))
	for i, v := range values {
		xys[i].X = float64(i)
		xys[i].Y = v
	}
	return xys
}

func curvePlot(title, ylabel string, train, val []float64, trainName, valName string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	lines := []interface{}{trainName, series(train)}
	if len(val) > 0 {
		lines = append(lines, valName, series(val))
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return nil, err
	}
	return p, nil
}

// PlotHistory 정확도와 손실 그래프를 나란히 저장
func PlotHistory(c Curves, path string) error {
	acc, err := curvePlot("Model Accuracy", "Accuracy", c.Accuracy, c.ValAccuracy, "Train Accuracy", "Validation Accuracy")
	if err != nil {
		return err
	}
	loss, err := curvePlot("Model Loss", "Loss", c.Loss, c.ValLoss, "Train Loss", "Validation Loss")
	if err != nil {
		return err
	}

	img := vgimg.New(15*vg.Inch, 5*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter * 5, PadY: vg.Millimeter * 2}
	plots := [][]*plot.Plot{{acc, loss}}
	canvases := plot.Align(plots, tiles, dc)
	for j, p := range plots[0] {
		p.Draw(canvases[0][j])
	}

	return writePNG(img, path)
}

func writePNG(img *vgimg.Canvas, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// 첫 번째 행(정답 클래스 0)이 위에 오도록 뒤집은 격자
type cmGrid struct {
	cm [][]int
}

func (g cmGrid) Dims() (c, r int) { return len(g.cm), len(g.cm) }
func (g cmGrid) Z(c, r int) float64 {
	return float64(g.cm[len(g.cm)-1-r][c])
}
func (g cmGrid) X(c int) float64 { return float64(c) }
func (g cmGrid) Y(r int) float64 { return float64(r) }

// PlotConfusionMatrix 혼동 행렬 heat map 저장
func PlotConfusionMatrix(cm [][]int, names []string, path string) error {
	k := len(cm)
	if k == 0 || len(names) != k {
		return fmt.Errorf("confusion matrix(%d) and class names(%d) mismatch", k, len(names))
	}

	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted Label"
	p.Y.Label.Text = "True Label"

	grid := cmGrid{cm: cm}
	hm := plotter.NewHeatMap(grid, palette.Heat(12, 1))
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	var (
		xys    plotter.XYs
		labels []string
		xticks []plot.Tick
		yticks []plot.Tick
	)
	for r := 0; r < k; r++ {
		for c := 0; c < k; c++ {
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(r)})
			labels = append(labels, fmt.Sprintf("%d", grid.Z(c, r)))
		}
		xticks = append(xticks, plot.Tick{Value: float64(r), Label: names[r]})
		yticks = append(yticks, plot.Tick{Value: float64(r), Label: names[k-1-r]})
	}
	annotations, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return err
	}
	for i := range annotations.TextStyle {
		annotations.TextStyle[i].Color = color.Black
		annotations.TextStyle[i].XAlign = text.XCenter
		annotations.TextStyle[i].YAlign = text.YCenter
	}
	p.Add(annotations)
	p.X.Tick.Marker = plot.ConstantTicks(xticks)
	p.Y.Tick.Marker = plot.ConstantTicks(yticks)

	return p.Save(10*vg.Inch, 8*vg.Inch, path)
}

// PlotROC ROC 곡선 저장
func PlotROC(fpr, tpr []float64, auc float64, path string) error {
	p := plot.New()
	p.Title.Text = "Receiver Operating Characteristic (ROC) Curve"
	p.X.Label.Text = "False Positive Rate"
	p.Y.Label.Text = "True Positive Rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1.05
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(fpr))
	for i := range fpr {
		xys[i] = plotter.XY{X: fpr[i], Y: tpr[i]}
	}
	curve, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	curve.LineStyle.Width = vg.Points(2)
	curve.LineStyle.Color = plotutil.Color(0)

	diagonal, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return err
	}
	diagonal.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}

	p.Add(curve, diagonal)
	p.Legend.Add(fmt.Sprintf("ROC Curve (AUC = %.4f)", auc), curve)
	p.Legend.Add("Random Classifier", diagonal)
	p.Legend.Top = false

	return p.Save(10*vg.Inch, 8*vg.Inch, path)
}
