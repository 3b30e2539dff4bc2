// Package evaluate 테스트 데이터로 모델 성능 측정
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/classifier"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/generator"
)

// ErrSingleClass 한 클래스만 있어서 ROC를 구할 수 없음
var ErrSingleClass = errors.New("ROC is not defined with only one class present")

// Collect 배치 순서대로 sigmoid 출력과 정답 수집
func Collect(ctx context.Context, m *classifier.Model, gen *generator.Generator) (scores, labels []float64, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for batch := range gen.Epoch(ctx) {
		if batch.Err != nil {
			return nil, nil, batch.Err
		}

		features, err := m.Features(ctx, batch.Tensor)
		if err != nil {
			return nil, nil, err
		}
		p, err := m.Head.Predict(features)
		if err != nil {
			return nil, nil, err
		}

		scores = append(scores, p...)
		labels = append(labels, batch.Labels...)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	return scores, labels, nil
}

// Result 평가 결과
type Result struct {
	Loss       float64
	Accuracy   float64
	Scores     []float64
	Labels     []int
	Predicted  []int
	ClassNames []string
}

// Evaluate 손실, 정확도, 예측값 계산
func Evaluate(ctx context.Context, m *classifier.Model, gen *generator.Generator) (*Result, error) {
	scores, labels, err := Collect(ctx, m, gen)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, errors.New("No samples to evaluate")
	}

	r := &Result{
		Loss:       m.Head.LossValue(scores, labels),
		Scores:     scores,
		Labels:     make([]int, len(labels)),
		Predicted:  make([]int, len(scores)),
		ClassNames: m.Labels,
	}

	correct := 0
	for i, s := range scores {
		r.Labels[i] = int(labels[i])
		if s > 0.5 {
			r.Predicted[i] = 1
		}
		if r.Labels[i] == r.Predicted[i] {
			correct++
		}
	}
	r.Accuracy = float64(correct) / float64(len(scores))

	return r, nil
}

// ConfusionMatrix 행은 정답, 열은 예측
func ConfusionMatrix(truth, predicted []int, k int) [][]int {
	cm := make([][]int, k)
	for i := range cm {
		cm[i] = make([]int, k)
	}
	for i, t := range truth {
		p := predicted[i]
		if t >= 0 && t < k && p >= 0 && p < k {
			cm[t][p]++
		}
	}
	return cm
}

// ClassMetrics 클래스별 지표
type ClassMetrics struct {
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report 분류 리포트
type Report struct {
	Classes     []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Total       int
}

// ClassificationReport 클래스별 precision, recall, f1-score
func ClassificationReport(truth, predicted []int, names []string) *Report {
	k := len(names)
	cm := ConfusionMatrix(truth, predicted, k)

	r := &Report{
		Classes:     make([]ClassMetrics, k),
		MacroAvg:    ClassMetrics{Name: "macro avg"},
		WeightedAvg: ClassMetrics{Name: "weighted avg"},
		Total:       len(truth),
	}

	correct := 0
	for c := 0; c < k; c++ {
		tp := cm[c][c]
		correct += tp
		var predictedC, actualC int
		for j := 0; j < k; j++ {
			predictedC += cm[j][c]
			actualC += cm[c][j]
		}

		m := ClassMetrics{
			Name:      names[c],
			Precision: ratio(tp, predictedC),
			Recall:    ratio(tp, actualC),
			Support:   actualC,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes[c] = m

		r.MacroAvg.Precision += m.Precision / float64(k)
		r.MacroAvg.Recall += m.Recall / float64(k)
		r.MacroAvg.F1 += m.F1 / float64(k)
		if r.Total > 0 {
			w := float64(actualC) / float64(r.Total)
			r.WeightedAvg.Precision += m.Precision * w
			r.WeightedAvg.Recall += m.Recall * w
			r.WeightedAvg.F1 += m.F1 * w
		}
	}
	r.MacroAvg.Support = r.Total
	r.WeightedAvg.Support = r.Total
	r.Accuracy = ratio(correct, r.Total)

	return r
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// String 텍스트 표
func (r *Report) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(m ClassMetrics) {
		fmt.Fprintf(&sb, "%*s  %9.2f %9.2f %9.2f %9d\n", width, m.Name, m.Precision, m.Recall, m.F1, m.Support)
	}
	for _, c := range r.Classes {
		row(c)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	row(r.MacroAvg)
	row(r.WeightedAvg)

	return sb.String()
}

// ROC 임계값을 내려가며 구한 false/true positive rate.
// 첫 점은 (0, 0), 임계값 +Inf
func ROC(truth []int, scores []float64) (fpr, tpr, thresholds []float64, err error) {
	if len(truth) != len(scores) {
		return nil, nil, nil, fmt.Errorf("labels(%d) and scores(%d) size mismatch", len(truth), len(scores))
	}

	idx := make([]int, len(scores))
	var pos, neg int
	for i := range idx {
		idx[i] = i
		if truth[i] == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return nil, nil, nil, ErrSingleClass
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	fpr = []float64{0}
	tpr = []float64{0}
	thresholds = []float64{math.Inf(1)}

	var tp, fp int
	for i, j := range idx {
		if truth[j] == 1 {
			tp++
		} else {
			fp++
		}
		// 같은 점수는 한 점으로
		if i+1 < len(idx) && scores[idx[i+1]] == scores[j] {
			continue
		}
		fpr = append(fpr, float64(fp)/float64(neg))
		tpr = append(tpr, float64(tp)/float64(pos))
		thresholds = append(thresholds, scores[j])
	}

	return fpr, tpr, thresholds, nil
}

// AUC 사다리꼴 적분
func AUC(fpr, tpr []float64) float64 {
	var area float64
	for i := 1; i < len(fpr) && i < len(tpr); i++ {
		area += (fpr[i] - fpr[i-1]) * (tpr[i] + tpr[i-1]) / 2
	}
	return area
}
