package sources

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

const (
	ProfileFacility     = "facility"
	ProfileProfessional = "professional"
)

// Profile maps the columns of one kind of source onto a NormalizedRecord. Normalize never fails:
// field problems become FieldIssues on the record.
type Profile interface {
	Name() string
	Kind() models.EntityKind
	Normalize(rec models.RawRecord) models.NormalizedRecord
}

// ProfileOptions configure the normalizers a profile applies
type ProfileOptions struct {
	Bounds     *normalizers.BoundingBox
	Categories *normalizers.CategoryMapper
}

// ProfileFor returns the named profile. An empty name picks one from the reader format and header.
func ProfileFor(name, format string, sample *models.RawRecord, opts ProfileOptions) (Profile, error) {
	if name == "" {
		name = detectProfile(format, sample)
	}
	switch name {
	case ProfileFacility:
		return NewFacilityProfile(opts), nil
	case ProfileProfessional:
		return NewProfessionalProfile(), nil
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
}

func detectProfile(format string, sample *models.RawRecord) string {
	if format == FormatListing || format == FormatView {
		return ProfileProfessional
	}
	if sample != nil {
		cols := columnIndex(sample.Fields)
		for _, alias := range professionalName.aliases {
			if _, ok := cols[normalizers.Key(alias)]; ok {
				return ProfileProfessional
			}
		}
	}
	return ProfileFacility
}

// columnIndex maps the comparison key of every header to the header itself.
func columnIndex(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, name := range sortedKeys(fields) {
		k := normalizers.Key(name)
		if _, ok := out[k]; !ok {
			out[k] = name
		}
	}
	return out
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// column is a source field: the headers it may appear under and the named normalizers its value goes through.
type column struct {
	aliases []string
	chain   []string
}

func col(chain []string, aliases ...string) column {
	return column{aliases: aliases, chain: chain}
}

func (c column) apply(v string) string {
	return normalizers.ApplyChain(v, c.chain...)
}

var (
	asText   = []string(nil)
	asDigits = []string{"digits_only"}
	asPhone  = []string{"nphone"}
	asName   = []string{"collapse"}
)

// row reads a raw record by header aliases
type row struct {
	rec  models.RawRecord
	cols map[string]string
}

func newRow(rec models.RawRecord) row {
	return row{rec: rec, cols: columnIndex(rec.Fields)}
}

// get returns the raw value under the first alias that is not blank
func (r row) get(c column) string {
	for _, alias := range c.aliases {
		if name, ok := r.cols[normalizers.Key(alias)]; ok {
			if v := r.rec.Fields[name]; strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return ""
}

// value returns the column value run through its normalizer chain
func (r row) value(c column) string {
	return c.apply(r.get(c))
}

var validate = validator.New()

var (
	facilityName      = col(asName, "Nome", "NOME FANTASIA")
	facilityLegalName = col(asText, "RAZÃO SOCIAL")
	facilityKey       = col(asDigits, "Nº DO CADASTRO", "N DO CADASTRO", "CADASTRO", "CNES")
	facilityCategory  = col(asText, "SETOR", "Categoria")
	facilityAddress   = col(asText, "Endereço")
	facilityDistrict  = col(asText, "Bairro")
	facilityLatitude  = col(asText, "LATITUDE", "lat")
	facilityLongitude = col(asText, "LONGITUDE", "lng", "lon")
	facilityPhone     = col(asPhone, "Contato", "Telefone")
	facilityHours     = col(asText, "HORÁRIO DE FUNCIONAMENTO", "HORÁRIO DE FUNCIONAMENT0", "Horário")
	facilityService   = col(asText, "Serviço")
	facilityFrom      = col(asText, "INICIO VIG.", "INÍCIO VIGÊNCIA")
	facilityTo        = col(asText, "VENCIMENTO")
	facilityLinks     = map[string]column{
		"instagram": col(asText, "Instagram"),
		"facebook":  col(asText, "Facebook"),
		"website":   col(asText, "Website", "Site"),
	}
)

// FacilityProfile reads facility spreadsheets
type FacilityProfile struct {
	bounds     *normalizers.BoundingBox
	categories *normalizers.CategoryMapper
}

func NewFacilityProfile(opts ProfileOptions) *FacilityProfile {
	categories := opts.Categories
	if categories == nil {
		categories = normalizers.NewCategoryMapper(normalizers.DefaultCategories, normalizers.CatchAll)
	}
	return &FacilityProfile{bounds: opts.Bounds, categories: categories}
}

func (p *FacilityProfile) Name() string            { return ProfileFacility }
func (p *FacilityProfile) Kind() models.EntityKind { return models.EntityFacility }

func (p *FacilityProfile) Normalize(rec models.RawRecord) models.NormalizedRecord {
	r := newRow(rec)
	raw := rec
	out := models.NormalizedRecord{
		EntityKind:   models.EntityFacility,
		Name:         normalizers.FirstText(r.get(facilityName)),
		OriginalName: r.value(facilityName),
		Address:      normalizers.CleanText(r.get(facilityAddress)),
		District:     normalizers.CleanText(r.get(facilityDistrict)),
		Hours:        normalizers.CleanText(r.get(facilityHours)),
		Raw:          &raw,
	}

	category := r.get(facilityCategory)
	if out.Category = p.categories.Map(category); out.Category != nil && !p.categories.Known(category) {
		out.AddIssue(ferrors.NewFieldNormalizationError("category", category, "unmapped category"))
	}

	if key := r.value(facilityKey); key != "" {
		out.NaturalKey = &key
	}

	if phone := r.get(facilityPhone); !normalizers.IsSentinel(phone) {
		if digits := facilityPhone.apply(phone); len(strings.TrimPrefix(digits, "+")) >= 8 {
			out.Phone = &digits
		} else {
			out.AddIssue(ferrors.NewFieldNormalizationError("phone", phone, "too few digits"))
		}
	}

	p.coordinates(r, &out)

	var issue *ferrors.FieldNormalizationError
	if out.ValidFrom, issue = normalizers.NormalizeDate("valid_from", r.get(facilityFrom)); issue != nil {
		out.AddIssue(issue)
	}
	if out.ValidTo, issue = normalizers.NormalizeDate("valid_to", r.get(facilityTo)); issue != nil {
		out.AddIssue(issue)
	}

	attrs := map[string]string{}
	if legal := normalizers.CleanText(r.get(facilityLegalName)); legal != nil {
		attrs["legal_name"] = *legal
	}
	if service := normalizers.CleanText(r.get(facilityService)); service != nil {
		attrs["service"] = *service
	}
	for name, c := range facilityLinks {
		link := normalizers.CleanText(r.get(c))
		if link == nil {
			continue
		}
		if name == "website" && validate.Var(*link, "url") != nil {
			out.AddIssue(ferrors.NewFieldNormalizationError(name, *link, "not a url"))
			continue
		}
		attrs[name] = *link
	}
	if len(attrs) > 0 {
		out.Attributes = attrs
	}
	return out
}

// coordinates keeps the first flag raised; a flagged pair never reaches production.
func (p *FacilityProfile) coordinates(r row, out *models.NormalizedRecord) {
	lat := normalizers.NormalizeCoordinate(r.get(facilityLatitude), normalizers.Latitude, p.bounds)
	lng := normalizers.NormalizeCoordinate(r.get(facilityLongitude), normalizers.Longitude, p.bounds)
	out.Latitude, out.Longitude = lat.Value, lng.Value

	for _, res := range []normalizers.CoordinateResult{lat, lng} {
		if res.Issue != nil {
			out.AddIssue(res.Issue)
		}
		if res.Flag != models.CoordinateOK && out.CoordinateFlag == models.CoordinateOK {
			out.CoordinateFlag = res.Flag
		}
	}
}

var (
	professionalName     = col(asName, "Profissional", "nome_medico", "Nome do Profissional")
	professionalUnit     = col(asText, "Unidade de Saude", "nome_unidade", "Unidade")
	professionalRole     = col(asText, "Especialidade", "nome_especialidade", "cbo_text", "Ocupação")
	professionalRoleCode = col(asDigits, "CBO", "cbo_code")
	professionalCPF      = col(asDigits, "CPF")
	professionalCNS      = col(asDigits, "CNS", "Cartão SUS")
)

// ProfessionalProfile reads professional rosters from spreadsheets, listings and the external view.
// Every row names the unit the person works at and the role they hold there.
type ProfessionalProfile struct{}

func NewProfessionalProfile() *ProfessionalProfile { return &ProfessionalProfile{} }

func (p *ProfessionalProfile) Name() string            { return ProfileProfessional }
func (p *ProfessionalProfile) Kind() models.EntityKind { return models.EntityProfessional }

func (p *ProfessionalProfile) Normalize(rec models.RawRecord) models.NormalizedRecord {
	r := newRow(rec)
	raw := rec
	out := models.NormalizedRecord{
		EntityKind:   models.EntityProfessional,
		Name:         normalizers.CleanUpper(r.get(professionalName)),
		OriginalName: r.value(professionalName),
		Raw:          &raw,
	}

	if cpf := r.get(professionalCPF); cpf != "" {
		if digits := professionalCPF.apply(cpf); len(digits) == 11 {
			out.NaturalKey = &digits
		} else {
			out.AddIssue(ferrors.NewFieldNormalizationError("cpf", cpf, "expected 11 digits"))
		}
	}

	attrs := map[string]string{}
	if cns := r.value(professionalCNS); cns != "" {
		attrs["cns"] = cns
	}
	if len(attrs) > 0 {
		out.Attributes = attrs
	}

	// unit codes come from another registry than facility keys, so units resolve by name.
	// Assignment columns stay in the raw data; only person-level values become attributes.
	if unit := normalizers.CleanUpper(r.get(professionalUnit)); unit != nil {
		out.RelatedRefs = append(out.RelatedRefs, models.RelatedRef{Kind: models.EntityFacility, Name: *unit})
	}
	if role := normalizers.CleanUpper(r.get(professionalRole)); role != nil {
		ref := models.RelatedRef{Kind: models.EntitySpecialty, Name: *role}
		if code := r.value(professionalRoleCode); code != "" {
			ref.NaturalKey = &code
		}
		out.RelatedRefs = append(out.RelatedRefs, ref)
	}
	return out
}
