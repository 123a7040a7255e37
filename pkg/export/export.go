// Package export copies labeled pool images into a training-ready dataset
// tree: images/, labels/ with class indices, and a data.yaml descriptor.
package export

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/labelpool/internal/utils"
	"github.com/menta2k/labelpool/pkg/labelstore"
)

// imageExts is the lookup order for the image matching a label record
var imageExts = []string{".jpg", ".png", ".jpeg"}

// DataFile describes the dataset to a trainer
type DataFile struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

// Result summarizes an export
type Result struct {
	Dir      string
	YAMLPath string
	Count    int
	Classes  []string
}

type pair struct {
	image, record string
}

// DirName returns the timestamped directory name used for a new export
func DirName(now time.Time) string {
	return "dataset_export_" + now.Format("20060102_150405")
}

// Export writes every label record that has a matching image into target.
// Class names are replaced by their index in the sorted class list.
func Export(imageDir, labelDir, target string) (*Result, error) {
	for _, sub := range []string{"images", "labels"} {
		if err := utils.EnsureDir(filepath.Join(target, sub)); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve export path: %w", err)
	}
	res := &Result{Dir: abs, Classes: []string{}}

	pairs, classes, err := collect(imageDir, labelDir)
	if err != nil {
		return nil, err
	}
	res.Classes = classes

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	for _, p := range pairs {
		if err := utils.CopyFile(p.image, filepath.Join(target, "images", filepath.Base(p.image))); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", filepath.Base(p.image), err)
		}
		if err := rewriteRecord(p.record, filepath.Join(target, "labels", filepath.Base(p.record)), index); err != nil {
			return nil, err
		}
		res.Count++
	}

	data, err := yaml.Marshal(DataFile{
		Path:  abs,
		Train: "images",
		Val:   "images",
		NC:    len(classes),
		Names: classes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode data.yaml: %w", err)
	}
	res.YAMLPath = filepath.Join(abs, "data.yaml")
	if err := utils.WriteFileAtomic(res.YAMLPath, data, 0644); err != nil {
		return nil, err
	}
	return res, nil
}

// collect pairs each record with its image and gathers the class names.
// A missing label directory yields an empty dataset.
func collect(imageDir, labelDir string) ([]pair, []string, error) {
	stems, err := utils.ListStems(labelDir, labelstore.RecordExt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list labels: %w", err)
	}
	names := make([]string, 0, len(stems))
	for s := range stems {
		names = append(names, s)
	}
	sort.Strings(names)

	seen := map[string]bool{}
	var pairs []pair
	for _, stem := range names {
		img := ""
		for _, ext := range imageExts {
			if p := filepath.Join(imageDir, stem+ext); utils.FileExists(p) {
				img = p
				break
			}
		}
		if img == "" {
			continue
		}
		record := filepath.Join(labelDir, stem+labelstore.RecordExt)
		data, err := os.ReadFile(record)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", filepath.Base(record), err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if f := strings.Fields(line); len(f) > 0 {
				seen[f[0]] = true
			}
		}
		pairs = append(pairs, pair{image: img, record: record})
	}

	classes := make([]string, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return pairs, classes, nil
}

func rewriteRecord(src, dst string, index map[string]int) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(src), err)
	}
	defer f.Close()

	var out bytes.Buffer
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		idx, ok := index[fields[0]]
		if !ok {
			continue
		}
		out.WriteString(strconv.Itoa(idx))
		for _, v := range fields[1:] {
			out.WriteByte(' ')
			out.WriteString(v)
		}
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(src), err)
	}
	return utils.WriteFileAtomic(dst, out.Bytes(), 0644)
}
