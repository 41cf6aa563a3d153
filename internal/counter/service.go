package counter

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
)

// Service orchestrates the reuse-or-generate workflow. It performs a single
// linear attempt per call: validation, prior-record lookup, sequence
// reservation, format check, ledger bind. Retries, if any, belong to the
// caller; a retry with the same national id is safe by construction.
type Service struct {
	repo    Repository
	years   YearProvider
	metrics Metrics
	logger  *slog.Logger
	piiSalt string
}

// NewService wires the service to its ports. piiSalt feeds the one-way hash
// applied to national ids before they reach any log sink.
func NewService(repo Repository, years YearProvider, metrics Metrics, logger *slog.Logger, piiSalt string) *Service {
	return &Service{
		repo:    repo,
		years:   years,
		metrics: metrics,
		logger:  logger,
		piiSalt: piiSalt,
	}
}

// GetOrCreate returns the permanent counter for nationalID, minting one if
// the subject has never been assigned. Reuse ignores the supplied gender and
// the current year: identity permanence outranks freshness, so a stored
// counter is returned unchanged even when its prefix or year disagree with
// this call. Prefix consistency is only re-checked by the offline backfill
// audit.
func (s *Service) GetOrCreate(ctx context.Context, nationalID string, gender int) (string, error) {
	correlationID := uuid.New().String()

	if !ValidNationalID(nationalID) {
		return "", NewError(CodeInvalidNationalID,
			"شناسه ملی باید شامل ۱۰ رقم باشد.",
			map[string]string{"national_id_hash": HashNationalID(s.piiSalt, nationalID)})
	}
	prefix, ok := GenderPrefix[gender]
	if !ok {
		return "", NewError(CodeInvalidGender,
			"جنسیت نامعتبر است (صرفاً ۰ یا ۱ مجاز است).",
			map[string]string{"gender": strconv.Itoa(gender)})
	}
	yearCode := s.years.CurrentYearCode()
	if !ValidYearCode(yearCode) {
		return "", NewError(CodeInvalidYearCode,
			"کد سال تحصیلی باید شامل دو رقم باشد.",
			map[string]string{"year_code": yearCode})
	}
	hashedID := HashNationalID(s.piiSalt, nationalID)

	rec, err := s.repo.GetPriorCounter(ctx, nationalID)
	if err != nil {
		return "", s.conflictFrom(err, "جست‌وجوی شماره قبلی با خطا مواجه شد.",
			map[string]string{"year_code": yearCode})
	}
	if rec != nil {
		s.metrics.ObserveReuse(ctx, yearCode, gender)
		s.logger.InfoContext(ctx, "counter_reused",
			"correlation_id", correlationID,
			"national_id_hash", hashedID,
			"counter", MaskCounter(rec.Counter),
			"year_code", rec.YearCode,
			"requested_year", yearCode,
		)
		if rec.YearCode != yearCode {
			s.logger.WarnContext(ctx, "W_COUNTER_OLD_YEAR_REUSED",
				"correlation_id", correlationID,
				"national_id_hash", hashedID,
				"counter", MaskCounter(rec.Counter),
				"original_year", rec.YearCode,
				"requested_year", yearCode,
			)
		}
		return rec.Counter, nil
	}

	seq, err := s.repo.ReserveNextSequence(ctx, yearCode, prefix)
	if err != nil {
		return "", s.conflictFrom(err, "به‌روزرسانی توالی با خطا مواجه شد.",
			map[string]string{"year_code": yearCode, "prefix": prefix})
	}
	if seq < 1 {
		return "", NewError(CodeDBConflict,
			"خطای داخلی بانک اطلاعاتی در رزرو توالی.",
			map[string]string{"year_code": yearCode, "prefix": prefix})
	}
	if seq > MaxSequence {
		s.metrics.ObserveOverflow(ctx, yearCode, gender)
		s.logger.ErrorContext(ctx, "counter_overflow",
			"correlation_id", correlationID,
			"national_id_hash", hashedID,
			"year_code", yearCode,
			"prefix", prefix,
			"sequence", seq,
		)
		return "", NewError(CodeExhausted,
			"ظرفیت توالی سال/پیشوند تکمیل شده است.",
			map[string]string{"year_code": yearCode, "prefix": prefix})
	}
	s.metrics.RecordSequencePosition(ctx, yearCode, prefix, seq)

	minted := Format(yearCode, prefix, seq)
	if !ValidCounter(minted) {
		return "", NewError(CodePatternInvalid,
			"قالب شماره تخصیص‌یافته نامعتبر است.",
			map[string]string{"counter": MaskCounter(minted)})
	}

	stored, err := s.repo.BindLedger(ctx, Record{
		NationalID: nationalID,
		Counter:    minted,
		YearCode:   yearCode,
	})
	if err != nil {
		if IsCode(err, CodeDBConflict) {
			s.metrics.ObserveConflict(ctx, "ledger_conflict")
			return "", err
		}
		s.metrics.ObserveConflict(ctx, "ledger_exception")
		return "", WrapError(CodeDBConflict,
			"ثبت رکورد در دفترچه با خطا مواجه شد.",
			map[string]string{"year_code": yearCode, "prefix": prefix}, err)
	}

	if stored.Counter != minted {
		// A concurrent writer won the bind; their row is authoritative.
		s.metrics.ObserveConflict(ctx, "ledger_race")
		s.logger.InfoContext(ctx, "counter_race",
			"correlation_id", correlationID,
			"national_id_hash", hashedID,
			"generated_counter", MaskCounter(minted),
			"persisted_counter", MaskCounter(stored.Counter),
		)
		return stored.Counter, nil
	}

	s.metrics.ObserveGeneration(ctx, yearCode, gender)
	s.logger.InfoContext(ctx, "counter_generated",
		"correlation_id", correlationID,
		"national_id_hash", hashedID,
		"counter", MaskCounter(stored.Counter),
		"year_code", yearCode,
		"prefix", prefix,
		"sequence", seq,
	)
	return stored.Counter, nil
}

// conflictFrom passes through typed service errors and wraps anything else
// as a DB conflict with the given Persian message.
func (s *Service) conflictFrom(err error, messageFa string, details map[string]string) error {
	if e := AsError(err); e != nil {
		return e
	}
	return WrapError(CodeDBConflict, messageFa, details, err)
}
