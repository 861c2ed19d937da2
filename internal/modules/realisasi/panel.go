package realisasi

import (
	"bytes"
	"html/template"
	"strconv"
)

var monthNames = [12]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

// MonthName returns the Indonesian name of month m (1-based), or the number
// itself when out of range.
func MonthName(m int) string {
	if m < 1 || m > 12 {
		return strconv.Itoa(m)
	}
	return monthNames[m-1]
}

// Period describes a month range the way the report title does.
func Period(from, to int) string {
	if from == to {
		return MonthName(from)
	}
	return MonthName(from) + " s.d. " + MonthName(to)
}

type monthOption struct {
	Value int
	Name  string
}

type panelView struct {
	Title, Subtitle string
	Start, End      string
	Months          []monthOption
	View, Download  string
	Notice, Result  string
}

var panelTmpl = template.Must(template.New("panel").Parse(`<style>
  .sipd-select { width: 100%; height: 2.5rem; padding: 0 2rem 0 1rem; border: 1px solid #e2e8f0; border-radius: .375rem; background: #fff; }
  .sipd-spinner { display: inline-block; width: 1em; height: 1em; border: 2px solid currentColor; border-bottom-color: transparent; border-radius: 50%; animation: sipd-spin .45s linear infinite; margin-right: .5rem; vertical-align: middle; }
  @keyframes sipd-spin { to { transform: rotate(360deg); } }
  .btn[disabled] { opacity: .6; cursor: not-allowed; pointer-events: none; }
</style>
<div class="card rounded-md bg-white border border-slate-300 mt-5">
  <div class="card-header">
    <div>
      <h1 class="card-title">{{.Title}}</h1>
      <h1 class="card-subtitle">{{.Subtitle}}</h1>
    </div>
  </div>
  <div class="card-body p-6">
    <div class="grid grid-cols-12 mb-5 gap-5">
      <div class="col-span-6">
        <label class="block form-label">Bulan Awal</label>
        <select name="{{.Start}}" class="sipd-select">
          <option value="" disabled selected>Pilih bulan disini ...</option>
          {{- range .Months}}
          <option value="{{.Value}}">{{.Name}}</option>
          {{- end}}
        </select>
      </div>
      <div class="col-span-6">
        <label class="block form-label">Bulan Akhir</label>
        <select name="{{.End}}" class="sipd-select">
          <option value="" disabled selected>Pilih bulan disini ...</option>
          {{- range .Months}}
          <option value="{{.Value}}">{{.Name}}</option>
          {{- end}}
        </select>
      </div>
      <div class="col-span-4">
        <button name="{{.View}}" data-sipd-action="{{.View}}" type="button" class="btn inline-flex justify-center items-center bg-success-500 text-white">
          <span class="btn-label">Lihat</span>
        </button>
        <button name="{{.Download}}" data-sipd-action="{{.Download}}" type="button" class="btn inline-flex justify-center items-center bg-primary-500 text-white">
          <span class="btn-label">Download</span>
        </button>
      </div>
    </div>
    <div class="{{.Notice}}"></div>
    <div class="{{.Result}}"></div>
  </div>
</div>`))

var noticeTmpl = template.Must(template.New("notice").Parse(
	`<p class="mb-2 text-sm {{if .Error}}text-danger-500{{else}}text-slate-500{{end}}">{{.Text}}</p>`))

func renderPanel(title, subtitle string) string {
	view := panelView{
		Title:    title,
		Subtitle: subtitle,
		Start:    FieldStart,
		End:      FieldEnd,
		View:     ActionView,
		Download: ActionDownload,
		Notice:   noticeClass,
		Result:   resultClass,
	}
	for i, name := range monthNames {
		view.Months = append(view.Months, monthOption{Value: i + 1, Name: name})
	}
	var buf bytes.Buffer
	if err := panelTmpl.Execute(&buf, view); err != nil {
		// The template and its input are static.
		panic(err)
	}
	return buf.String()
}

func renderNotice(text string, isErr bool) string {
	var buf bytes.Buffer
	_ = noticeTmpl.Execute(&buf, struct {
		Text  string
		Error bool
	}{text, isErr})
	return buf.String()
}
