// Package report renders fetched records as the panel's HTML table, an XLSX
// workbook and a terminal summary. All three read the same column list.
package report

// Align is a cell's horizontal alignment.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Format selects how a value is rendered.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatDate     Format = "date"
	FormatCurrency Format = "currency"
)

// RowNumberField is the pseudo field of the running row number column.
const RowNumberField = "#"

// Column describes one output column.
type Column struct {
	Field    string
	Label    string
	AltLabel string // header used in exports when it differs from Label
	Align    Align
	Format   Format
	TotalKey string // non-empty: the column is summed under this key
	Width    float64
	NoWrap   bool
}

// ExportLabel returns the header used in exported files.
func (c Column) ExportLabel() string {
	if c.AltLabel != "" {
		return c.AltLabel
	}
	return c.Label
}

// Total keys of the realisasi report.
const (
	TotalRealisasi = "realisasi"
	TotalSetoran   = "setoran"
	TotalSPD       = "spd"
	TotalSP2D      = "sp2d"
)

func text(field, label, alt string, width float64) Column {
	return Column{Field: field, Label: label, AltLabel: alt, Align: AlignLeft, Format: FormatPlain, Width: width}
}

func code(field, label, alt string, width float64) Column {
	return Column{Field: field, Label: label, AltLabel: alt, Align: AlignLeft, Format: FormatPlain, Width: width, NoWrap: true}
}

func centered(field, label, alt string, width float64) Column {
	return Column{Field: field, Label: label, AltLabel: alt, Align: AlignCenter, Format: FormatPlain, Width: width}
}

func date(field, label, alt string, width float64) Column {
	return Column{Field: field, Label: label, AltLabel: alt, Align: AlignCenter, Format: FormatDate, Width: width, NoWrap: true}
}

func money(field, label, totalKey string, width float64) Column {
	return Column{Field: field, Label: label, Align: AlignRight, Format: FormatCurrency, TotalKey: totalKey, Width: width, NoWrap: true}
}

// RealisasiColumns is the per-document realisasi report layout.
var RealisasiColumns = []Column{
	{Field: RowNumberField, Label: "No", AltLabel: "Nomor", Align: AlignCenter, Format: FormatPlain, Width: 6},
	code("kode_skpd", "Kode SKPD", "", 20),
	text("nama_skpd", "Nama SKPD", "", 40),
	code("kode_sub_skpd", "Kode Sub SKPD", "", 20),
	text("nama_sub_skpd", "Nama Sub SKPD", "", 33),
	centered("kode_fungsi", "Kode Fungsi", "", 12),
	text("nama_fungsi", "Nama Fungsi", "", 24),
	centered("kode_sub_fungsi", "Kode Sub Fungsi", "", 15),
	text("nama_sub_fungsi", "Nama Sub Fungsi", "", 70),
	centered("kode_urusan", "Kode Urusan", "", 14),
	text("nama_urusan", "Nama Urusan", "", 32),
	centered("kode_bidang_urusan", "Kode Bid. Urusan", "Kode Bidang Urusan", 18),
	text("nama_bidang_urusan", "Nama Bidang Urusan", "", 42),
	code("kode_program", "Kode Program", "", 16),
	text("nama_program", "Nama Program", "", 28),
	code("kode_giat", "Kode Kegiatan", "", 16),
	text("nama_giat", "Nama Kegiatan", "", 28),
	code("kode_sub_giat", "Kode Sub Kegiatan", "", 18),
	text("nama_sub_giat", "Nama Sub Kegiatan", "", 30),
	code("kode_rekening", "Kode Rekening", "", 18),
	text("nama_rekening", "Nama Rekening", "", 30),
	code("nomor_dokumen", "Nomor Dokumen", "", 22),
	centered("jenis_dokumen", "Jenis Dok", "Jenis Dokumen", 16),
	centered("jenis_transaksi", "Transaksi", "Jenis Transaksi", 18),
	text("nomor_dpt", "Nomor DPT", "", 18),
	date("tanggal_dokumen", "Tgl Dokumen", "Tanggal Dokumen", 16),
	text("keterangan_dokumen", "Keterangan", "Keterangan Dokumen", 32),
	money("nilai_realisasi", "Nilai Realisasi", TotalRealisasi, 18),
	money("nilai_setoran", "Nilai Setoran", TotalSetoran, 18),
	code("nip_pegawai", "NIP Pegawai", "", 18),
	text("nama_pegawai", "Nama Pegawai", "", 26),
	date("tanggal_simpan", "Tgl Simpan", "Tanggal Simpan", 16),
	code("nomor_spd", "Nomor SPD", "", 20),
	centered("periode_spd", "Periode SPD", "", 14),
	money("nilai_spd_detail", "Nilai SPD", TotalSPD, 18),
	text("tahap_spd", "Tahapan SPD", "", 12),
	text("nama_sub_tahap_jadwal", "Sub Tahapan", "Nama Sub Tahapan Jadwal", 22),
	centered("status_tahap_apbd", "Tahapan APBD", "", 14),
	code("nomor_spp", "Nomor SPP", "", 20),
	date("tanggal_spp", "Tgl SPP", "Tanggal SPP", 14),
	code("nomor_spm", "Nomor SPM", "", 20),
	date("tanggal_spm", "Tgl SPM", "Tanggal SPM", 14),
	code("nomor_sp2d", "Nomor SP2D", "", 20),
	date("tanggal_sp2d", "Tgl SP2D", "Tanggal SP2D", 14),
	date("tanggal_sp2d_transfer", "Tgl Transfer", "Tanggal Transfer", 14),
	money("nilai_sp2d", "Nilai SP2D", TotalSP2D, 18),
}
