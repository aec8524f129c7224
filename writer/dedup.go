package writer

import (
	"crypto/sha256"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
)

// deduplicate merges objects that serialize identically, repeating until
// nothing changes since merging children can make parents equal. The
// first object of each group keeps its place; the rest are dropped and
// references to them redirected. Page tree nodes keep their identity.
func (w *Writer) deduplicate(f *file) {
	removed := 0
	for {
		seen := make(map[[sha256.Size]byte]int, len(f.objects))
		same := make(map[int]int)
		var buf []byte
		for i, obj := range f.objects {
			if d, ok := obj.(*raw.DictObj); ok {
				if typ, _ := d.GetName("Type"); typ == "Page" || typ == "Pages" || typ == "Catalog" {
					continue
				}
			}
			buf = buf[:0]
			if st, ok := obj.(*raw.StreamObj); ok {
				buf = append(buf, 's')
				buf = AppendObject(buf, st.Dict)
				buf = append(buf, st.Data...)
			} else {
				buf = append(buf, 'o')
				buf = AppendObject(buf, obj)
			}
			key := sha256.Sum256(buf)
			if first, ok := seen[key]; ok {
				same[i+1] = first
				continue
			}
			seen[key] = i + 1
		}
		if len(same) == 0 {
			break
		}

		numbers := make(map[raw.ObjectRef]int, len(f.objects))
		kept := f.objects[:0:0]
		for i, obj := range f.objects {
			if _, dup := same[i+1]; dup {
				continue
			}
			kept = append(kept, obj)
			numbers[raw.ObjectRef{Num: i + 1}] = len(kept)
		}
		for dup, first := range same {
			numbers[raw.ObjectRef{Num: dup}] = numbers[raw.ObjectRef{Num: first}]
		}
		for i, obj := range kept {
			kept[i] = renumber(obj, numbers)
		}
		f.objects = kept
		f.root = renumber(f.root, numbers).(raw.RefObj)
		if f.info != nil {
			f.info = renumber(f.info, numbers)
		}
		removed += len(same)
	}
	if removed > 0 {
		w.log.Debug("duplicate objects merged", observability.Int("removed", removed))
	}
}
